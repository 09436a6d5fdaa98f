// Package parser extracts question/answer notes from markdown files.
//
// A note starts with a "Q:" line and may carry "A:", "C:" (context) and
// "T:" (tags) blocks. Blocks run until the next prefix, a "---" separator
// or the next question.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
	tagsPrefix     = "T:"
	separator      = "---"
)

// Entry is one parsed note.
type Entry struct {
	Question string
	Answer   string
	Context  string
	Tags     []string
	// Line is where the question starts, counting from 1.
	Line int
}

// Fields returns the entry as note fields: question, answer, context.
func (e Entry) Fields() []string {
	return []string{e.Question, e.Answer, e.Context}
}

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingContext
	readingTags
)

// ParseFile reads a file from the given path and extracts all entries.
func ParseFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads from an io.Reader and extracts all entries.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var (
		entries []Entry
		current Entry
		block   []string
		lineNo  int
	)
	currentState := seeking

	flushBlock := func() {
		if len(block) == 0 {
			return
		}
		content := strings.TrimRight(strings.Join(block, "\n"), "\n")
		switch currentState {
		case readingQuestion:
			current.Question = content
		case readingAnswer:
			current.Answer = content
		case readingContext:
			current.Context = content
		case readingTags:
			current.Tags = append(current.Tags, splitTags(content)...)
		}
		block = nil
	}

	finishEntry := func() {
		flushBlock()
		if current.Question != "" {
			entries = append(entries, current)
		}
		current = Entry{}
		currentState = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()
		lineNo++

		if line == separator {
			finishEntry()
			continue
		}

		prefix, next := matchPrefix(line)
		if prefix == "" {
			if currentState != seeking {
				block = append(block, line)
			}
			continue
		}

		flushBlock()
		if next == readingQuestion {
			// A new question always starts a new entry.
			if currentState != seeking {
				finishEntry()
			}
			current.Line = lineNo
		} else if currentState == seeking {
			// A, C or T without a question is ignored.
			continue
		}
		currentState = next
		block = append(block, strings.TrimPrefix(line[len(prefix):], " "))
	}

	finishEntry() // the last entry in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func matchPrefix(line string) (string, state) {
	switch {
	case strings.HasPrefix(line, questionPrefix):
		return questionPrefix, readingQuestion
	case strings.HasPrefix(line, answerPrefix):
		return answerPrefix, readingAnswer
	case strings.HasPrefix(line, contextPrefix):
		return contextPrefix, readingContext
	case strings.HasPrefix(line, tagsPrefix):
		return tagsPrefix, readingTags
	}
	return "", seeking
}

// splitTags accepts tags separated by spaces or commas.
func splitTags(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}
