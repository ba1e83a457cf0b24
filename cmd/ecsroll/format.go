package main

import (
	"io"
	"strings"
	"text/tabwriter"
)

func newTabwriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
}

func makeExample(examples ...string) string {
	var buf strings.Builder
	for _, ex := range examples {
		buf.WriteString("  " + ex + "\n")
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}
