package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Tokenizer produces model inputs (input_ids, attention_mask, token_type_ids), each
// padded to maxTokens.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	clsToken = "[CLS]"
	sepToken = "[SEP]"
	unkToken = "[UNK]"
	padToken = "[PAD]"

	maxWordRunes = 100
)

// WordPieceTokenizer is a BERT WordPiece tokenizer over a vocab.txt vocabulary.
// Combining marks are never stripped, so Bengali vowel signs and virama survive
// even when lowercasing is on.
type WordPieceTokenizer struct {
	vocab     map[string]int64
	lowercase bool
	cls       int64
	sep       int64
	unk       int64
	pad       int64
}

// LoadVocab reads a vocab.txt file: one token per line, the line number is its id.
func LoadVocab(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var id int64
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r")
		if _, dup := vocab[token]; !dup {
			vocab[token] = id
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary %s: %w", path, err)
	}
	return vocab, nil
}

// NewWordPieceTokenizer builds a tokenizer over vocab, which must contain the
// [CLS], [SEP], [UNK] and [PAD] tokens.
func NewWordPieceTokenizer(vocab map[string]int64, lowercase bool) (*WordPieceTokenizer, error) {
	t := &WordPieceTokenizer{vocab: vocab, lowercase: lowercase}
	for _, special := range []struct {
		token string
		id    *int64
	}{
		{clsToken, &t.cls},
		{sepToken, &t.sep},
		{unkToken, &t.unk},
		{padToken, &t.pad},
	} {
		id, ok := vocab[special.token]
		if !ok {
			return nil, fmt.Errorf("vocabulary has no %s token", special.token)
		}
		*special.id = id
	}
	return t, nil
}

// LoadWordPieceTokenizer is LoadVocab followed by NewWordPieceTokenizer.
func LoadWordPieceTokenizer(path string, lowercase bool) (*WordPieceTokenizer, error) {
	vocab, err := LoadVocab(path)
	if err != nil {
		return nil, err
	}
	t, err := NewWordPieceTokenizer(vocab, lowercase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Tokens returns the WordPiece tokens for text, without special tokens.
func (t *WordPieceTokenizer) Tokens(text string) []string {
	var tokens []string
	for _, word := range t.basicSplit(text) {
		tokens = append(tokens, t.wordPieces(word)...)
	}
	return tokens
}

// Tokenize encodes text as [CLS] tokens [SEP], truncated and padded to maxTokens.
func (t *WordPieceTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = 2
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)
	for i := range inputIDs {
		inputIDs[i] = t.pad
	}

	inputIDs[0] = t.cls
	attentionMask[0] = 1
	pos := 1
	for _, token := range t.Tokens(text) {
		if pos >= maxTokens-1 {
			break
		}
		id, ok := t.vocab[token]
		if !ok {
			id = t.unk
		}
		inputIDs[pos] = id
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = t.sep
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// basicSplit drops control characters, splits on whitespace and makes every
// punctuation rune its own word.
func (t *WordPieceTokenizer) basicSplit(text string) []string {
	if t.lowercase {
		text = strings.ToLower(text)
	}
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar:
		case unicode.IsSpace(r):
			flush()
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r) && r != '\u200c' && r != '\u200d':
		case isPunctuation(r):
			flush()
			words = append(words, string(r))
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}

// wordPieces splits word greedily into the longest vocabulary pieces, prefixing
// continuations with "##". A word with any unmatched remainder becomes [UNK].
func (t *WordPieceTokenizer) wordPieces(word string) []string {
	runes := []rune(word)
	if len(runes) > maxWordRunes {
		return []string{unkToken}
	}
	var pieces []string
	for start := 0; start < len(runes); {
		end := len(runes)
		match := ""
		for ; end > start; end-- {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if _, ok := t.vocab[piece]; ok {
				match = piece
				break
			}
		}
		if match == "" {
			return []string{unkToken}
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces
}

// isPunctuation treats all non-alphanumeric ASCII as punctuation, like BERT does,
// in addition to Unicode punctuation such as the Bengali danda.
func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
