package model

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// wasteLabels is the class order the waste model was trained with.
var wasteLabels = []string{"cardboard", "glass", "metal", "paper", "plastic"}

// LoadLabels reads a label table, one label per line.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open labels")
	}
	defer f.Close()
	return ParseLabels(f)
}

// ParseLabels trims each line and skips blank ones.
func ParseLabels(r io.Reader) ([]string, error) {
	var labels []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			labels = append(labels, l)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}
	return labels, nil
}

// ResolveLabels returns labels unchanged when they match the class count.
// Otherwise it returns the fallback set together with a *LabelMismatchError:
// the known waste order for 5 classes, class_<i> names for anything else.
func ResolveLabels(labels []string, classes int) ([]string, error) {
	if len(labels) == classes {
		out := make([]string, classes)
		copy(out, labels)
		return out, nil
	}
	return FallbackLabels(classes), &LabelMismatchError{Labels: len(labels), Classes: classes}
}

// FallbackLabels is the deterministic label set used on a mismatch.
func FallbackLabels(classes int) []string {
	if classes == len(wasteLabels) {
		out := make([]string, classes)
		copy(out, wasteLabels)
		return out
	}
	out := make([]string, classes)
	for i := range out {
		out[i] = fmt.Sprintf("class_%d", i)
	}
	return out
}
