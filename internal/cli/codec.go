package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/umlpipe/pkg/bridge"
)

// encodeCommand creates the encode command.
func (c *CLI) encodeCommand() *cobra.Command {
	var (
		text string
		port int
	)

	cmd := &cobra.Command{
		Use:   "encode [file|-]",
		Short: "Encode diagram source as a bridge path segment",
		Long: `Encode diagram source into the ~h<hex> form accepted by GET /svg/.

The source is read from the file argument, --text, or stdin. With --port the
full bridge URL is printed instead of the bare segment.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(cmd.InOrStdin(), args, text)
			if err != nil {
				return err
			}
			segment := bridge.Encode(source)
			if port > 0 {
				segment = fmt.Sprintf("http://127.0.0.1:%d/svg/%s", port, segment)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), segment)
			return err
		},
	}

	cmd.Flags().StringVarP(&text, "text", "t", "", "encode this text instead of reading a file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "print a full bridge URL on this port")

	return cmd
}

// decodeCommand creates the decode command.
func (c *CLI) decodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <segment>",
		Short: "Decode a ~h<hex> path segment back to source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			segment := args[0]
			if i := strings.LastIndex(segment, "/svg/"); i >= 0 {
				segment = segment[i+len("/svg/"):]
			}
			source, err := bridge.Decode(segment)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), source)
			return err
		},
	}
}

// readSource returns text when set, otherwise the named file or stdin.
func readSource(stdin io.Reader, args []string, text string) (string, error) {
	if text != "" {
		if len(args) > 0 {
			return "", fmt.Errorf("--text cannot be combined with a file argument")
		}
		return text, nil
	}
	if len(args) == 0 || args[0] == stdinArg {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}
