package change

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const (
	authorDisplayTemplateConstant       = "%s <%s>"
	authorParseErrorTemplateConstant    = "invalid author %q: %w"
	authorEmptyErrorMessageConstant     = "author identity is empty"
	authorMissingEmailMessageConstant   = "author email is empty"
	messageSummaryLineSeparatorConstant = "\n"
)

// ErrEmptyAuthor indicates that an author identity string was blank.
var ErrEmptyAuthor = errors.New(authorEmptyErrorMessageConstant)

// Author identifies the person credited with a change.
type Author struct {
	Name  string
	Email string
}

// String renders the author in "Name <email>" form.
func (author Author) String() string {
	if len(author.Name) == 0 {
		return fmt.Sprintf("<%s>", author.Email)
	}
	return fmt.Sprintf(authorDisplayTemplateConstant, author.Name, author.Email)
}

// IsZero reports whether the author carries no identity.
func (author Author) IsZero() bool {
	return len(author.Name) == 0 && len(author.Email) == 0
}

// ParseAuthor parses an RFC 5322 style "Name <email>" identity.
func ParseAuthor(identity string) (Author, error) {
	trimmedIdentity := strings.TrimSpace(identity)
	if len(trimmedIdentity) == 0 {
		return Author{}, ErrEmptyAuthor
	}
	address, parseError := mail.ParseAddress(trimmedIdentity)
	if parseError != nil {
		return Author{}, fmt.Errorf(authorParseErrorTemplateConstant, identity, parseError)
	}
	if len(address.Address) == 0 {
		return Author{}, fmt.Errorf(authorParseErrorTemplateConstant, identity, errors.New(authorMissingEmailMessageConstant))
	}
	return Author{Name: address.Name, Email: address.Address}, nil
}

// Change is one logical unit of origin history.
type Change struct {
	Reference     string
	Author        Author
	Timestamp     time.Time
	Message       string
	AffectedPaths []string
}

// Summary returns the first line of the change message.
func (change Change) Summary() string {
	trimmedMessage := strings.TrimSpace(change.Message)
	firstLine, _, _ := strings.Cut(trimmedMessage, messageSummaryLineSeparatorConstant)
	return strings.TrimSpace(firstLine)
}

// Sequence lists changes oldest first.
type Sequence []Change

// IsEmpty reports whether there is nothing to migrate.
func (sequence Sequence) IsEmpty() bool {
	return len(sequence) == 0
}

// Last returns the newest change in the sequence.
func (sequence Sequence) Last() (Change, bool) {
	if len(sequence) == 0 {
		return Change{}, false
	}
	return sequence[len(sequence)-1], true
}

// References lists change references in sequence order.
func (sequence Sequence) References() []string {
	references := make([]string, 0, len(sequence))
	for _, change := range sequence {
		references = append(references, change.Reference)
	}
	return references
}

// IndexOf returns the position of the change with the supplied reference or -1.
func (sequence Sequence) IndexOf(reference string) int {
	for changeIndex, change := range sequence {
		if change.Reference == reference {
			return changeIndex
		}
	}
	return -1
}

// After returns the changes following the supplied reference. The boolean is false when the reference is absent.
func (sequence Sequence) After(reference string) (Sequence, bool) {
	referenceIndex := sequence.IndexOf(reference)
	if referenceIndex < 0 {
		return nil, false
	}
	remaining := make(Sequence, len(sequence)-referenceIndex-1)
	copy(remaining, sequence[referenceIndex+1:])
	return remaining, true
}
