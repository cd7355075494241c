package main

import (
	"fmt"
	"strings"
)

func hasExplainFlag(arguments []string) bool {
	for _, argument := range arguments {
		if strings.TrimSpace(argument) == "--explain" {
			return true
		}
	}
	return false
}

func isHelpRequest(arguments []string) bool {
	return len(arguments) > 0 && (arguments[0] == "--help" || arguments[0] == "-h")
}

func writeExplain(text string) int {
	fmt.Println(text)
	return exitOK
}
