// Command voicebridged runs the voice-agent conversation orchestration
// server: the HTTP/WS edge, the LLM gateway and TTS provider registries,
// and the background durable sink.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
