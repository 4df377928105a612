package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ent0n29/personatwin/internal/app"
	"github.com/ent0n29/personatwin/internal/audio"
	"github.com/ent0n29/personatwin/internal/chat"
	"github.com/ent0n29/personatwin/internal/voice"
)

// styles render each message kind in the terminal transcript.
var styles = map[chat.Kind]lipgloss.Style{
	chat.KindUser:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#58a6ff")),
	chat.KindAssistant: lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff9f")),
	chat.KindStatus:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#6e7681")),
	chat.KindError:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f")),
	chat.KindDebug:     lipgloss.NewStyle().Foreground(lipgloss.Color("#d29922")),
	chat.KindSpecial:   lipgloss.NewStyle().Foreground(lipgloss.Color("#bc8cff")),
}

var labels = map[chat.Kind]string{
	chat.KindUser:      "you",
	chat.KindAssistant: "persona",
	chat.KindStatus:    "status",
	chat.KindError:     "error",
	chat.KindDebug:     "debug",
	chat.KindSpecial:   "info",
}

func formatMessage(m chat.Message) string {
	style, ok := styles[m.Kind]
	if !ok {
		style = lipgloss.NewStyle()
	}
	label := labels[m.Kind]
	if label == "" {
		label = string(m.Kind)
	}
	return style.Render(fmt.Sprintf("[%s] %s", label, m.Content))
}

type converseOptions struct {
	input     string
	output    string
	recordDir string
	agentID   string
}

func newConverseCmd() *cobra.Command {
	var o converseOptions
	cmd := &cobra.Command{
		Use:   "converse",
		Short: "Talk to the persona from the terminal",
		Long: `Open a realtime session and converse with the persona.

Typed lines are sent as user text. With --input, a mono PCM16 WAV file is
streamed as microphone audio; assistant speech is written to --output.

Examples:
  personatwin converse
  personatwin converse --input question.wav --output reply.wav --record ./recordings`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				cleanupCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				if err := b.Cleanup(cleanupCtx); err != nil {
					log.Printf("cleanup failed: %v", err)
				}
			}()
			return converse(ctx, b, o, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&o.input, "input", "i", "", "WAV file streamed as microphone input")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "WAV file receiving assistant speech")
	cmd.Flags().StringVar(&o.recordDir, "record", "", "directory for the user and assistant session recordings")
	cmd.Flags().StringVar(&o.agentID, "agent", "", "agent id when addressing an agent")
	return cmd
}

func converse(ctx context.Context, b *app.BuildResult, o converseOptions, in io.Reader, out io.Writer) error {
	pipeline := audio.NewPipeline(audio.FileDevice{InputPath: o.input, OutputPath: o.output, Realtime: true})
	var rec *audio.SessionRecorder
	if o.recordDir != "" {
		rec = pipeline.StartSessionRecording()
	}

	ctrl := b.NewController(app.ControllerOptions{
		Audio: pipeline,
		OnState: func(s voice.State) {
			fmt.Fprintln(out, styles[chat.KindStatus].Render("state: "+string(s)))
		},
	})
	defer ctrl.Close()

	unsubscribe := ctrl.Store().Subscribe(func(c chat.Change) {
		if c.Final() {
			fmt.Fprintln(out, formatMessage(c.Message))
		}
	})
	defer unsubscribe()

	if o.agentID != "" {
		ctrl.SelectAgent(o.agentID)
	}
	if err := ctrl.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if o.input != "" {
		if err := streamFile(ctx, ctrl, pipeline); err != nil {
			return err
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" {
				break loop
			}
			if err := ctrl.SendText(ctx, line); err != nil {
				fmt.Fprintln(out, formatMessage(chat.Message{Kind: chat.KindError, Content: err.Error()}))
			}
		}
	}

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ctrl.Disconnect(disconnectCtx)

	if rec != nil {
		pipeline.StopSessionRecording()
		prefix := "session-" + time.Now().Format("20060102-150405")
		userPath, assistantPath, err := rec.WriteFiles(o.recordDir, prefix)
		if err != nil {
			return fmt.Errorf("write recordings: %w", err)
		}
		fmt.Fprintln(out, styles[chat.KindStatus].Render("recorded "+userPath+" and "+assistantPath))
	}
	return nil
}

// streamFile feeds the input file as microphone audio and waits for it to
// run out.
func streamFile(ctx context.Context, ctrl *voice.Controller, pipeline *audio.Pipeline) error {
	if err := ctrl.StartRecording(ctx); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if !pipeline.Capturing() {
			break
		}
	}
	return ctrl.StopRecording(ctx)
}
