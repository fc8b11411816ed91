package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openfroyo/unitforge/pkg/engine"
)

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func archivedMark(archived bool) string {
	if archived {
		return " (archived)"
	}
	return ""
}

func printCourse(w io.Writer, c *engine.Course) {
	levels := make([]string, len(c.Levels))
	for i, l := range c.Levels {
		levels[i] = string(l)
	}
	fmt.Fprintf(w, "%s  %s  [%s]  %s%s\n", c.ID, c.Title, strings.Join(levels, " "), c.Methodology, archivedMark(c.ArchivedAt != nil))
}

func printBook(w io.Writer, b *engine.Book) {
	fmt.Fprintf(w, "%s  #%d  %s  %s%s\n", b.ID, b.Sequence, b.Level, b.Title, archivedMark(b.ArchivedAt != nil))
}

func printUnit(w io.Writer, u *engine.Unit) {
	fmt.Fprintf(w, "%s  #%d  %-8s %-20s v%d  images %d/%d  %s%s\n",
		u.ID, u.Sequence, u.Type, u.Status, u.Version, len(u.Images), u.RequiredImages, u.Title,
		archivedMark(u.ArchivedAt != nil))
}

func printUnitContent(w io.Writer, u *engine.Unit) {
	printUnit(w, u)
	c := u.Content
	if len(c.Vocabulary) > 0 {
		fmt.Fprintln(w, "\nVocabulary:")
		for _, v := range c.Vocabulary {
			fmt.Fprintf(w, "  %s %s  %s\n", v.Headword, v.IPA, v.Gloss)
		}
	}
	if len(c.Sentences) > 0 {
		fmt.Fprintln(w, "\nSentences:")
		for _, s := range c.Sentences {
			fmt.Fprintf(w, "  - %s\n", s.Text)
		}
	}
	if c.Strategy != nil {
		fmt.Fprintf(w, "\nStrategy (%s): %s\n  %s\n", c.Strategy.Kind, c.Strategy.Title, c.Strategy.Body)
	}
	if len(c.Assessments) > 0 {
		fmt.Fprintln(w, "\nAssessments:")
		for _, a := range c.Assessments {
			fmt.Fprintf(w, "  %s: %s (%d items)\n", a.Kind, a.Instructions, len(a.Items))
		}
	}
	if len(c.QA) > 0 {
		fmt.Fprintln(w, "\nQ&A:")
		for _, qa := range c.QA {
			fmt.Fprintf(w, "  Q: %s\n  A: %s\n", qa.Question, qa.Answer)
		}
	}
}

func printReport(w io.Writer, r *engine.BatchReport) {
	for _, u := range r.Units {
		line := fmt.Sprintf("%s  #%d  %s -> %s", u.UnitID, u.Sequence, u.From, u.To)
		switch {
		case u.Error != "":
			line += "  FAILED: " + u.Error
		case u.Skipped != "":
			line += "  skipped: " + u.Skipped
		}
		fmt.Fprintln(w, line)
	}
	s := r.Summary
	fmt.Fprintf(w, "\n%s: %d units, %d completed, %d failed, %d skipped in %s\n",
		r.Status, s.Total, s.Completed, s.Failed, s.Skipped, r.Duration.Round(time.Millisecond))
}

func parseSlot(s string) (engine.SlotKind, error) {
	slot := engine.SlotKind(strings.ToLower(s))
	if err := slot.Validate(); err != nil {
		return "", engine.NewValidationError(err.Error())
	}
	return slot, nil
}
