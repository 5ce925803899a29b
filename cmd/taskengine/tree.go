package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/Swind/go-task-engine/core"
)

// printTree writes t, its children and the tasks it submitted, indented by depth.
func printTree(w io.Writer, t core.Task, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%s- %s [%s] %s\n", indent, t.DisplayName(), t.State(), t.StatusDetail(false))
	for _, child := range t.Children() {
		printTree(w, child, depth+1)
	}
	for _, sub := range t.SubmittedTasks() {
		fmt.Fprintf(w, "%s  submitted:\n", indent)
		printTree(w, sub, depth+2)
	}
}
