// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/atotto/clipboard"
)

// promptForConfirmation displays a prompt and reads a line from in.
func promptForConfirmation(in io.Reader, out io.Writer, prompt string) string {
	fmt.Fprint(out, prompt)
	reader := bufio.NewReader(in)
	answer, _ := reader.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer))
}

// confirmed interprets an answer. An empty answer selects defaultYes.
func confirmed(answer string, defaultYes bool) bool {
	if answer == "" {
		return defaultYes
	}
	if defaultYes {
		return !strings.HasPrefix(answer, "n")
	}
	// "j" answers the German prompt
	return strings.HasPrefix(answer, "y") || strings.HasPrefix(answer, "j")
}

func clipboardWrite(s string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("clipboard is not supported on this system")
	}
	return clipboard.WriteAll(s)
}
