package prompt

import "strings"

// ellipsisReserve is the token allowance held back for the ellipsis marker
// appended to truncated text.
const ellipsisReserve = 10

const ellipsis = "…"

// truncateParagraphs fits text into budget tokens by including whole
// paragraphs (blank-line separated) greedily from the head. When anything
// is dropped, an ellipsis marker is appended; its cost is reserved up
// front so the result never exceeds the budget.
func truncateParagraphs(text string, budget int, count func(string) int) string {
	if budget <= 0 {
		return ""
	}
	if count(text) <= budget {
		return text
	}

	usable := budget - ellipsisReserve
	if usable <= 0 {
		return ellipsis
	}

	paragraphs := strings.Split(text, "\n\n")
	var kept []string
	used := 0
	for _, p := range paragraphs {
		cost := count(p)
		if used+cost > usable {
			break
		}
		kept = append(kept, p)
		used += cost
	}
	if len(kept) == 0 {
		return ellipsis
	}
	return strings.Join(kept, "\n\n") + "\n" + ellipsis
}

// truncateLines fits line-structured text (memory bullets) into budget
// tokens, dropping lines from the tail.
func truncateLines(text string, budget int, count func(string) int) string {
	if budget <= 0 {
		return ""
	}
	if count(text) <= budget {
		return text
	}

	usable := budget - ellipsisReserve
	if usable <= 0 {
		return ellipsis
	}

	lines := strings.Split(text, "\n")
	var kept []string
	used := 0
	for _, line := range lines {
		cost := count(line)
		if used+cost > usable {
			break
		}
		kept = append(kept, line)
		used += cost
	}
	if len(kept) == 0 {
		return ellipsis
	}
	return strings.Join(kept, "\n") + "\n" + ellipsis
}
