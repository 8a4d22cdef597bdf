// mockagentd runs the scripted stand-in backend so the agentdeck
// client can be developed and demoed without a live agent platform.
package main

import (
	"flag"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentdeck/pkg/domain"
	"agentdeck/pkg/mockbackend"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	tokenDelay := flag.Duration("token-delay", 30*time.Millisecond, "delay between streamed tokens")
	flag.Parse()

	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))

	script := mockbackend.EchoScript()
	script.TokenDelay = *tokenDelay
	base := script.Respond
	script.Respond = func(content string) mockbackend.Turn {
		turn := base(content)
		// Demo hooks: certain words make the scripted agent produce
		// tool steps and artifacts, so the whole UI path is visible.
		if strings.Contains(content, "code") {
			turn.Steps = append(turn.Steps, domain.ExecutionStep{
				ID:        uuid.New().String(),
				Kind:      domain.StepAction,
				Content:   "Generating code",
				ToolName:  "document_editor",
				Timestamp: domain.Now(),
			})
			turn.Artifacts = append(turn.Artifacts, domain.Artifact{
				ID:        uuid.New().String(),
				Type:      domain.ArtifactCode,
				Title:     "Example",
				Content:   "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n",
				Language:  "go",
				CreatedAt: domain.Now(),
			})
		}
		if strings.Contains(content, "fail") {
			turn.Fail = "scripted failure"
		}
		return turn
	}

	srv := mockbackend.New(script)
	if err := srv.Start(*addr); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
