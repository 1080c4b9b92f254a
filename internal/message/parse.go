package message

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ParseError reports a raw record that could not be turned into a Record.
// The record is skipped; the rest of the export is unaffected.
type ParseError struct {
	Index int    // position in the export
	Field string // JSON field name, empty when the whole record is malformed
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("record %d: field %s: %v", e.Index, e.Field, e.Err)
	}
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		// Report JSON names, they are what the export producer knows.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})

		_ = v.RegisterValidation("slack_ts", func(fl validator.FieldLevel) bool {
			_, err := ParseTS(fl.Field().String())
			return err == nil
		})

		validate = v
	})
	return validate
}

// Parse validates raw and converts it into a Record. index is the record's
// position in the export and is only used for error reporting.
func Parse(index int, raw Raw) (Record, error) {
	if err := recordValidator().Struct(raw); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return Record{}, &ParseError{
				Index: index,
				Field: fe.Field(),
				Err:   fmt.Errorf("failed %q validation", fe.Tag()),
			}
		}
		return Record{}, &ParseError{Index: index, Err: err}
	}

	ts := TS(raw.Timestamp)
	reply := *raw.IsThreadReply

	// Roots are their own thread, whatever the export says.
	parent := ts
	if reply {
		if raw.ParentThreadTS == "" {
			return Record{}, &ParseError{
				Index: index,
				Field: "parent_thread_ts",
				Err:   errors.New("required for thread replies"),
			}
		}
		parent = TS(raw.ParentThreadTS)
	}

	rec := Record{
		Text:          *raw.MessageText,
		Reactions:     namedReactions(raw.Reactions),
		ChannelID:     raw.ChannelID,
		TS:            ts,
		IsThreadReply: reply,
		ParentTS:      parent,
		UserID:        raw.UserID,
	}
	if raw.ChannelName != nil {
		rec.ChannelName = *raw.ChannelName
	}
	if raw.Subtype != nil {
		rec.Subtype = *raw.Subtype
	}
	if raw.LastEdited != nil {
		edit := *raw.LastEdited
		rec.LastEdited = &edit
	}
	return rec, nil
}

func namedReactions(reactions []Reaction) []Reaction {
	out := make([]Reaction, 0, len(reactions))
	for _, r := range reactions {
		if r.Name != "" {
			out = append(out, r)
		}
	}
	return out
}
