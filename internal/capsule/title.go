package capsule

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Auto-title derivation: tokenize recent user text, rank units by
// frequency, and join the top one or two into a short label.

// recentTitleMessages is how many trailing user messages feed the title.
const recentTitleMessages = 6

// titleJoinBudget is the max combined rune length for joining two units
// with the "·" separator; titleMaxRunes is the hard truncation cap.
const (
	titleJoinBudget = 10
	titleMaxRunes   = 12
)

var (
	urlPattern   = regexp.MustCompile(`https?://\S+`)
	alnumPattern = regexp.MustCompile(`[0-9A-Za-z_]+`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// stripPunct covers the common ASCII and full-width punctuation the
// tokenizer discards.
const stripPunct = "，。！？；：、“”‘’（）()【】[]{}<>《》—…·.,!?;:'\""

var stopWords = map[string]bool{
	"然后": true, "但是": true, "因为": true, "所以": true, "如果": true,
	"就是": true, "其实": true, "真的": true, "感觉": true, "觉得": true,
	"最近": true, "现在": true, "今天": true, "一个": true, "一些": true,
	"我们": true, "你们": true, "他们": true, "她们": true, "它们": true,
	"自己": true, "可能": true, "好像": true, "有点": true, "非常": true,
	"不是": true, "没有": true, "还是": true, "一直": true, "已经": true,
	"可以": true, "时候": true, "这里": true, "这样": true, "那样": true,
}

// Tokenize cleans text and segments it into word-like units: URLs,
// alphanumeric runs and punctuation are stripped, whitespace fields are
// split, and Han runs are further segmented into overlapping bigrams
// (the stand-in for word-granularity segmentation; other scripts fall
// back to whitespace splitting). Units shorter than 2 runes and common
// discourse connectives are dropped.
func Tokenize(text string) []string {
	cleaned := urlPattern.ReplaceAllString(text, " ")
	cleaned = alnumPattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.Map(func(r rune) rune {
		if strings.ContainsRune(stripPunct, r) {
			return ' '
		}
		return r
	}, cleaned)
	cleaned = strings.TrimSpace(spacePattern.ReplaceAllString(cleaned, " "))
	if cleaned == "" {
		return nil
	}

	var out []string
	for _, field := range strings.Split(cleaned, " ") {
		for _, unit := range segment(field) {
			if len([]rune(unit)) < 2 {
				continue
			}
			if stopWords[unit] {
				continue
			}
			out = append(out, unit)
		}
	}
	return out
}

// segment splits a whitespace field into units. Consecutive Han runes
// form a run that is emitted as overlapping bigrams; anything else is
// kept whole.
func segment(field string) []string {
	runes := []rune(field)
	var units []string
	i := 0
	for i < len(runes) {
		if !unicode.Is(unicode.Han, runes[i]) {
			j := i
			for j < len(runes) && !unicode.Is(unicode.Han, runes[j]) {
				j++
			}
			units = append(units, string(runes[i:j]))
			i = j
			continue
		}
		j := i
		for j < len(runes) && unicode.Is(unicode.Han, runes[j]) {
			j++
		}
		run := runes[i:j]
		if len(run) <= 2 {
			units = append(units, string(run))
		} else {
			for k := 0; k+2 <= len(run); k++ {
				units = append(units, string(run[k:k+2]))
			}
		}
		i = j
	}
	return units
}

// Summarize derives a short title from free text. Units are ranked by
// frequency, ties broken by first-seen order; the top unit is used, joined
// with the runner-up when the combined length stays within budget. Returns
// the fixed fragment label when nothing survives tokenization.
func Summarize(text string) string {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return TitleFragment
	}

	counts := make(map[string]int)
	var order []string
	for _, t := range tokens {
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	t1 := order[0]
	title := t1
	if len(order) > 1 {
		t2 := order[1]
		if len([]rune(t1))+1+len([]rune(t2)) <= titleJoinBudget {
			title = t1 + "·" + t2
		}
	}
	if r := []rune(title); len(r) > titleMaxRunes {
		title = string(r[:titleMaxRunes])
	}
	if title == "" {
		return TitleFragment
	}
	return title
}

// AutoTitle derives a title from the capsule's recent user messages.
func (c *Capsule) AutoTitle() string {
	return Summarize(c.RecentUserText(recentTitleMessages))
}
