package recognizer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// BlankToken is the reserved CTC blank, always at index 0.
	BlankToken = "-"
	// SeparatorToken is the silence symbol that splits decoded fragments.
	SeparatorToken = " "
	// DefaultCharacters is the meter display alphabet.
	DefaultCharacters = " 0123456789.,"
)

// Vocabulary maps recognizer output indices to characters. Index 0 is the
// blank; characters follow in their configured order.
type Vocabulary struct {
	Tokens       []string
	IndexToToken map[int]string
	TokenToIndex map[string]int
}

// NewVocabulary builds a vocabulary with the blank prepended to tokens.
func NewVocabulary(tokens []string) (*Vocabulary, error) {
	if len(tokens) == 0 {
		return nil, errors.New("vocabulary cannot be empty")
	}
	all := make([]string, 0, len(tokens)+1)
	all = append(all, BlankToken)
	idxTo := map[int]string{0: BlankToken}
	toIdx := map[string]int{BlankToken: 0}
	for _, t := range tokens {
		if t == BlankToken {
			return nil, fmt.Errorf("token %q is reserved for the blank", t)
		}
		if _, ok := toIdx[t]; ok {
			continue
		}
		toIdx[t] = len(all)
		idxTo[len(all)] = t
		all = append(all, t)
	}
	return &Vocabulary{Tokens: all, IndexToToken: idxTo, TokenToIndex: toIdx}, nil
}

// DefaultVocabulary returns the blank plus " 0123456789.,".
func DefaultVocabulary() *Vocabulary {
	v, _ := NewVocabulary(strings.Split(DefaultCharacters, ""))
	return v
}

// LoadVocabulary reads one token per line. Unlike ordinary dictionaries a line
// holding a single space is kept, since space is the separator symbol.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return nil, errors.New("vocabulary path cannot be empty")
	}
	f, err := os.Open(path) //nolint:gosec // G304: vocabulary path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	tokens := make([]string, 0, 16)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\uFEFF")
		}
		if line != SeparatorToken {
			line = strings.TrimSpace(line)
		}
		if line == "" {
			continue
		}
		tokens = append(tokens, norm.NFC.String(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading vocabulary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocabulary is empty: %s", path)
	}
	return NewVocabulary(tokens)
}

// Size returns the number of output classes including the blank.
func (v *Vocabulary) Size() int { return len(v.Tokens) }

// Blank returns the blank index.
func (v *Vocabulary) Blank() int { return 0 }

// LookupToken returns the token for an index, or empty string if missing.
func (v *Vocabulary) LookupToken(index int) string {
	if v == nil {
		return ""
	}
	return v.IndexToToken[index]
}

// LookupIndex returns the index of a token, or -1 if not present.
func (v *Vocabulary) LookupIndex(token string) int {
	if v == nil {
		return -1
	}
	if idx, ok := v.TokenToIndex[token]; ok {
		return idx
	}
	return -1
}
