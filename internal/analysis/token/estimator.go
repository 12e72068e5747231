package token

// charsPerToken approximates the average token width of the hosted chat
// models. Good enough for budgeting; not a tokenizer.
const charsPerToken = 4

// Estimate returns an approximate token count for text: one token per four
// characters, rounded down, never less than one. Deterministic and O(len).
func Estimate(text string) int {
	count := len(text) / charsPerToken
	if count < 1 {
		return 1
	}
	return count
}
