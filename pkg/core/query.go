package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// BlockID identifies one query block: the document it came from and its
// zero-based occurrence index within that document.
type BlockID struct {
	Doc   string
	Index int
}

// String returns the stable widget identifier "<doc>-<index>".
func (id BlockID) String() string {
	return id.Doc + "-" + strconv.Itoa(id.Index)
}

// ParseBlockID is the inverse of BlockID.String. The index is taken from
// the last dash so document ids may contain dashes themselves.
func ParseBlockID(s string) (BlockID, error) {
	i := strings.LastIndexByte(s, '-')
	if i <= 0 || i == len(s)-1 {
		return BlockID{}, fmt.Errorf("invalid block id %q", s)
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil || n < 0 {
		return BlockID{}, fmt.Errorf("invalid block id %q", s)
	}
	return BlockID{Doc: s[:i], Index: n}, nil
}

// MarshalText encodes the id in its string form.
func (id BlockID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the string form written by MarshalText.
func (id *BlockID) UnmarshalText(text []byte) error {
	parsed, err := ParseBlockID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Span is a half-open byte range [Start, End) in a document source.
type Span struct {
	Start int
	End   int
}

// QueryBlock is one embedded query annotation found in a document.
type QueryBlock struct {
	ID          BlockID
	Query       string // verbatim body, whitespace-trimmed
	Description string
	Span        Span // the whole annotation, open tag through close tag
	Line        int  // 1-based line of the open tag
}

// QueryResult is the outcome of one execution. Exactly one of
// {Columns+Rows, Error} is populated.
type QueryResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Error     *string          `json:"error"`
	HasMore   bool             `json:"hasMore,omitempty"`
	ElapsedMS float64          `json:"executionTime,omitempty"`
}

// ErrorResult builds a failed result carrying only the message.
func ErrorResult(msg string) QueryResult {
	return QueryResult{Error: &msg}
}

// Failed reports whether the result carries an error.
func (r QueryResult) Failed() bool {
	return r.Error != nil
}

// ErrorMessage returns the error text, or "" on success.
func (r QueryResult) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// WidgetPayload is the record inlined into a page for each widget.
type WidgetPayload struct {
	ID          string      `json:"id"`
	Query       string      `json:"query"`
	Description string      `json:"description,omitempty"`
	Result      QueryResult `json:"result"`
}

// DecodeResult decodes a serialized result. Numbers are kept as json.Number
// so re-encoding reproduces the original bytes.
func DecodeResult(data []byte) (QueryResult, error) {
	var res QueryResult
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	err := dec.Decode(&res)
	return res, err
}

// DecodePayloads decodes a serialized list of widget payloads, keeping
// numbers as json.Number.
func DecodePayloads(data []byte) ([]WidgetPayload, error) {
	var out []WidgetPayload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	err := dec.Decode(&out)
	return out, err
}
