package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lux/internal/manager"
)

var askCmd = &cobra.Command{
	Use:   "ask [request]",
	Short: "Answer a request with an existing or newly created function",
	Long: `Classifies the request against the registered functions. A matching
function is executed; a feasible new capability is generated, vetted,
tested and registered first.

Example:
  lux ask abre youtube`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var createCmd = &cobra.Command{
	Use:   "create [name] [description]",
	Short: "Generate, vet, test and register a new function",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runCreate,
}

var runCmd = &cobra.Command{
	Use:   "run [name] [args...]",
	Short: "Execute a registered function directly",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFunction,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive session (default command)",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := openRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	text := strings.Join(args, " ")
	logger.Info("handling request", zap.String("request", text))
	printAnswer(ctx, cmd.OutOrStdout(), rt, text)
	return nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := openRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	name, description := args[0], strings.Join(args[1:], " ")
	logger.Info("creating function", zap.String("name", name))

	created, err := rt.CreateFunction(ctx, name, description)
	if err != nil {
		fmt.Fprintln(out, styles.Error.Render(rt.Feedback().Render(err)))
		return fmt.Errorf("creation of %s failed", name)
	}

	fmt.Fprintln(out, styles.Success.Render(fmt.Sprintf("Created %s", created.Record.Name)))
	fmt.Fprintf(out, "  file:         %s\n", created.Record.FilePath)
	fmt.Fprintf(out, "  type:         %s\n", created.Record.FunctionType)
	fmt.Fprintf(out, "  repairs:      %d\n", created.Attempts)
	fmt.Fprintf(out, "  permissions:  %s\n", joinOrNone(created.Permissions))
	mods := make([]string, 0, len(created.Dependencies))
	for _, m := range created.Dependencies {
		mods = append(mods, m.String())
	}
	fmt.Fprintf(out, "  dependencies: %s\n", joinOrNone(mods))
	if created.Smoke.Success {
		fmt.Fprintf(out, "  first run:    %v\n", created.Smoke.Result)
	} else {
		fmt.Fprintln(out, styles.Warning.Render("  first run failed: "+created.Smoke.Error))
	}
	return nil
}

func runFunction(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := openRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	res, err := rt.Run(ctx, args[0], args[1:]...)
	if err != nil {
		fmt.Fprintln(out, styles.Error.Render(rt.Feedback().Render(err)))
		return fmt.Errorf("execution of %s failed", args[0])
	}
	fmt.Fprintln(out, rt.Feedback().FormatResult(args[0], fmt.Sprint(res.Result)))
	fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("(%s)", res.ExecutionTime)))
	return nil
}

// runChat reads requests line by line until EOF or an exit word. The
// registry is watched so functions created elsewhere show up.
func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	return chatLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), rt)
}

func chatLoop(ctx context.Context, in io.Reader, out io.Writer, rt *manager.Runtime) error {
	fmt.Fprintln(out, styles.Title.Render("lux")+styles.Muted.Render(" - escribe 'salir' para terminar"))
	scanner := bufio.NewScanner(in)
	for {
		if in == os.Stdin {
			fmt.Fprint(out, styles.Prompt.Render("> "))
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(text) {
		case "":
			continue
		case "salir", "exit", "quit":
			return nil
		}

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		printAnswer(reqCtx, out, rt, text)
		cancel()

		if ctx.Err() != nil {
			return nil
		}
	}
}

func printAnswer(ctx context.Context, out io.Writer, rt *manager.Runtime, text string) {
	answer, handled := rt.ExecuteFunction(ctx, text)
	if !handled {
		fmt.Fprintln(out, styles.Muted.Render("No hay ninguna función para esta petición."))
		return
	}
	fmt.Fprintln(out, styles.Answer.Render(answer))
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
