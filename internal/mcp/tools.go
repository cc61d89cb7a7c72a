package mcp

import "github.com/mark3labs/mcp-go/mcp"

var createToolDef = mcp.NewTool("capsule_create",
	mcp.WithDescription("Create a new memory capsule on the canvas. Returns the capsule with its id."),
	mcp.WithNumber("x", mcp.Description("Canvas x position (default 0)")),
	mcp.WithNumber("y", mcp.Description("Canvas y position (default 0)")),
	mcp.WithString("title", mcp.Description("Initial title (defaults to the placeholder)")),
)

var listToolDef = mcp.NewTool("capsule_list",
	mcp.WithDescription("List capsules in render order (most-recently-touched last)."),
)

var openToolDef = mcp.NewTool("capsule_open",
	mcp.WithDescription("Fetch one capsule with its full conversation history, bringing it to the front."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capsule id")),
)

var sendToolDef = mcp.NewTool("capsule_send",
	mcp.WithDescription("Send a message in a capsule's conversation and wait for the agent's reply (or the local fallback when offline). A send while one is in flight becomes a stop."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capsule id")),
	mcp.WithString("text", mcp.Description("Message text; may be empty when images are attached")),
	mcp.WithString("image_paths", mcp.Description("Comma-separated image file paths to attach (validated, downsized and encoded)")),
)

var stopToolDef = mcp.NewTool("capsule_stop",
	mcp.WithDescription("Abort the in-flight agent call, if any."),
)

var sealToolDef = mcp.NewTool("capsule_seal",
	mcp.WithDescription("Toggle a capsule's seal. Sealing locks history and title until unsealed."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capsule id")),
)

var titleToolDef = mcp.NewTool("capsule_title",
	mcp.WithDescription("Rename a capsule. Rejected while sealed."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capsule id")),
	mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
)

var moveToolDef = mcp.NewTool("capsule_move",
	mcp.WithDescription("Update a capsule's canvas position. Allowed while sealed."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capsule id")),
	mcp.WithNumber("x", mcp.Required(), mcp.Description("Canvas x position")),
	mcp.WithNumber("y", mcp.Required(), mcp.Description("Canvas y position")),
)

var probeToolDef = mcp.NewTool("agent_probe",
	mcp.WithDescription("Check the configured agent endpoint (health first, then a trivial chat)."),
)
