// ABOUTME: Interactive read-eval loop driving a conversation engine from the terminal
// ABOUTME: Handles slash commands, form and interactive prompts, persistence and export

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/otto/internal/conversation"
	"github.com/2389/otto/internal/export"
	"github.com/2389/otto/internal/store"
	"github.com/2389/otto/internal/transcript"
)

const helpText = `Comandos:
  /page <key>      muda a página enviada com cada mensagem (vazio limpa)
  /cancel          interrompe a resposta atual (ou Ctrl-C)
  /reset           começa uma conversa nova
  /export <file>   salva a conversa como HTML
  /history         lista conversas salvas
  /help            mostra esta ajuda
  /quit            sai`

type app struct {
	eng     *conversation.Engine
	updates <-chan transcript.State
	printer *printer
	store   store.Store // nil when persistence is off
	key     string
	page    string

	lines     <-chan string
	interrupt <-chan os.Signal
	out       io.Writer
	logger    *slog.Logger
}

// next reads a line, giving up at end of input.
func (a *app) next() (string, bool) {
	line, ok := <-a.lines
	return line, ok
}

func (a *app) prompt() prompter {
	return prompter{read: a.next, out: a.out}
}

// run processes input until /quit, end of input or ctx is done.
func (a *app) run(ctx context.Context) error {
	for {
		fmt.Fprint(a.out, color.GreenString("você› "))

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			return nil
		case <-a.interrupt:
			fmt.Fprintln(a.out)
			return nil
		case line, ok = <-a.lines:
		}
		if !ok {
			fmt.Fprintln(a.out)
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := a.command(ctx, line)
			if err != nil {
				fmt.Fprintln(a.out, color.RedString("✗ %v", err))
			}
			if quit {
				return nil
			}
			continue
		}

		a.eng.Send(line, a.page)
		if err := a.finishTurn(ctx); err != nil {
			return err
		}
	}
}

func (a *app) command(ctx context.Context, line string) (quit bool, err error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(a.out, helpText)
	case "/page":
		a.page = arg
		fmt.Fprintf(a.out, "página: %q\n", a.page)
	case "/cancel":
		a.eng.Cancel()
	case "/reset":
		a.eng.Reset()
		a.drain()
		a.printer.Reset()
		a.save(ctx)
		fmt.Fprintln(a.out, color.HiBlackString("conversa reiniciada"))
	case "/export":
		return false, a.export(arg)
	case "/history":
		return false, a.history(ctx)
	default:
		return false, fmt.Errorf("comando desconhecido: %s (veja /help)", name)
	}
	return false, nil
}

// finishTurn shows the running turn until it ends, then follows up on any
// form or question it left open.
func (a *app) finishTurn(ctx context.Context) error {
	for {
		a.follow(ctx)
		a.save(ctx)

		st := a.eng.State()
		if st.Status != transcript.StatusDone {
			return nil
		}

		started, err := a.answerOpenPrompts(st)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !errors.Is(err, errAborted) {
			return err
		}
		if !started {
			return nil
		}
	}
}

// follow prints updates until the engine has no running turn. An interrupt
// cancels the turn instead of quitting.
func (a *app) follow(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		_ = a.eng.Wait(ctx)
		close(done)
	}()

	for {
		select {
		case st, ok := <-a.updates:
			if !ok {
				return
			}
			a.printer.Update(st)
		case <-a.interrupt:
			a.eng.Cancel()
			fmt.Fprintln(a.out, color.HiBlackString(" (interrompido)"))
		case <-done:
			a.drain()
			a.printer.Update(a.eng.State())
			return
		}
	}
}

// drain discards queued snapshots; the printer catches up from State.
func (a *app) drain() {
	for {
		select {
		case _, ok := <-a.updates:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// answerOpenPrompts asks the user about the last turn's unanswered form or
// interactive questions. It reports whether a new turn was started.
func (a *app) answerOpenPrompts(st transcript.State) (bool, error) {
	if len(st.Messages) == 0 {
		return false, nil
	}

	for _, m := range lastTurn(st.Messages) {
		if m.Role != transcript.RoleInteractive || m.InteractiveAnswered || m.Interactive == nil {
			continue
		}
		value, err := a.prompt().Interactive(m)
		if err != nil {
			return false, err
		}
		a.eng.RespondInteractive(m.ID, value)
	}

	last := st.Messages[len(st.Messages)-1]
	if last.Role != transcript.RoleForm || last.FormSubmitted {
		return false, nil
	}
	fmt.Fprintln(a.out, color.HiBlackString("(digite /cancel para pular o formulário)"))
	values, err := a.prompt().Form(last.FormSchema, last.FormData)
	if err != nil {
		return false, err
	}
	return a.eng.SubmitForm(last.ID, values), nil
}

// lastTurn returns the messages after the last user message.
func lastTurn(msgs transcript.Transcript) transcript.Transcript {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == transcript.RoleUser {
			return msgs[i+1:]
		}
	}
	return msgs
}

func (a *app) save(ctx context.Context) {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.store.SaveConversation(ctx, a.key, a.eng.State()); err != nil {
		a.logger.Warn("saving conversation", "key", a.key, "error", err)
	}
}

func (a *app) export(path string) error {
	if path == "" {
		return errors.New("uso: /export <arquivo.html>")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	if err := export.HTML(f, "Otto "+a.key, a.eng.State().Messages); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing export file: %w", err)
	}
	fmt.Fprintf(a.out, "exportado para %s\n", path)
	return nil
}

func (a *app) history(ctx context.Context) error {
	if a.store == nil {
		return errors.New("persistência desativada (configure storage.path)")
	}
	convs, err := a.store.ListConversations(ctx, 20)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(a.out, "nenhuma conversa salva")
		return nil
	}
	for _, c := range convs {
		marker := " "
		if c.Key == a.key {
			marker = "*"
		}
		fmt.Fprintf(a.out, "%s %s  %s  %3d msgs  %s\n",
			marker, c.Key, c.UpdatedAt.Local().Format("02/01 15:04"), c.MessageCount, c.Title)
	}
	return nil
}
