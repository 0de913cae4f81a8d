package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/RichardoC/talknow/internal/content"
	"github.com/RichardoC/talknow/internal/llm"
	"github.com/RichardoC/talknow/internal/render"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		width   int
		noColor bool
	)
	cmd := &cobra.Command{
		Use:   "ask [message...]",
		Short: "Ask one question and print the shaped answer",
		Example: `  talknow ask "Show me a React component"
  talknow ask Create a sales table`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireAPIKey(); err != nil {
				return err
			}
			shaper, err := content.NewShaper(content.Mode(a.cfg.Shaper.Mode))
			if err != nil {
				return err
			}
			model, err := llm.New(a.cfg.LLM, shaper, a.logger)
			if err != nil {
				return err
			}
			useColor := !noColor && !color.NoColor
			term, err := render.NewTerminal(width, useColor)
			if err != nil {
				return err
			}

			message := strings.Join(args, " ")
			reply := model.Respond(cmd.Context(), message, nil)

			out := cmd.OutOrStdout()
			you := color.New(color.FgCyan, color.Bold)
			bot := color.New(color.FgGreen, color.Bold)
			if !useColor {
				you.DisableColor()
				bot.DisableColor()
			}

			you.Fprint(out, "You: ")
			fmt.Fprintln(out, message)
			bot.Fprintf(out, "TalkNow [%s]:\n", reply.Content.ContentType())

			body, err := term.Payload(reply.Content, reply.Language)
			if err != nil {
				return err
			}
			_, err = io.WriteString(out, body)
			return err
		},
	}
	cmd.Flags().IntVar(&width, "width", 80, "Wrap width for markdown output")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	return cmd
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [message...]",
		Short: "Print the answer type a message would get, without calling the model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), content.Classify(strings.Join(args, " ")))
			return err
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	var write string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, or write it to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if write != "" {
				saved := *a.cfg
				saved.LLM.APIKey = ""
				if err := saved.Save(write); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", write)
				return nil
			}
			shown := *a.cfg
			if shown.LLM.APIKey != "" {
				shown.LLM.APIKey = "<redacted>"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(&shown); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&write, "write", "", "Write the configuration to this path")
	return cmd
}
