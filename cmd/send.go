/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	serial "github.com/allbin/serial-session"
	"github.com/allbin/serial-session/internal/tui/components"
	"github.com/allbin/serial-session/internal/tui/styles"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [data]",
	Short: "Send data to the configured device",
	Long: `Connect to the configured device, send data and disconnect.

Data can be provided as:
- Command line argument: serial send "AT+GMR"
- From stdin (pipe): echo "test data" | serial send
- Interactive mode: serial send (prompts for input)

With --wait the reply is printed for that long before disconnecting.

Example usage:
  serial send "AT+GMR" --newline --wait 500ms
  serial send --hex "02 06 00 03 00 00 00 99"
  echo "test" | serial send -d 0403:6001`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data string
		if len(args) == 1 {
			data = args[0]
		} else {
			input, err := readInput(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			data = input
		}

		addNewline, _ := cmd.Flags().GetBool("newline")
		hexMode, _ := cmd.Flags().GetBool("hex")
		wait, _ := cmd.Flags().GetDuration("wait")

		payload, err := buildPayload(data, hexMode, addNewline)
		if err != nil {
			return err
		}
		return sendData(cmd, payload, wait)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().BoolP("newline", "n", false, "Add newline character to the end of data")
	sendCmd.Flags().BoolP("hex", "x", false, "Interpret data as hexadecimal (e.g., '48656c6c6f' for 'Hello')")
	sendCmd.Flags().DurationP("wait", "w", 0, "Print received data for this long after sending")
}

// readInput reads piped stdin, or prompts when stdin is a terminal
func readInput(in io.Reader, out io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok {
		if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
			fmt.Fprint(out, styles.InfoStyle.Render("Enter data to send: "))
			scanner := bufio.NewScanner(in)
			scanner.Scan()
			return scanner.Text(), scanner.Err()
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func buildPayload(data string, hexMode, addNewline bool) ([]byte, error) {
	if hexMode {
		payload, err := components.ParseHex(data)
		if err != nil {
			return nil, fmt.Errorf("invalid hex data: %w", err)
		}
		return payload, nil
	}
	if data == "" {
		return nil, components.ErrEmptyInput
	}
	if addNewline {
		data += "\n"
	}
	return []byte(data), nil
}

// replyBuffer collects what the device sends while send waits
type replyBuffer struct {
	mu   sync.Mutex
	data []byte
}

var _ serial.Controller = (*replyBuffer)(nil)

func (r *replyBuffer) OnConnected()             {}
func (r *replyBuffer) OnDisconnected(err error) {}

func (r *replyBuffer) OnData(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, p...)
}

func (r *replyBuffer) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...)
}

func sendData(cmd *cobra.Command, payload []byte, wait time.Duration) error {
	t, err := loadTarget()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	reply := &replyBuffer{}
	session := newSession(reply)

	fmt.Fprintf(out, "%s Looking for %s...\n", styles.InfoStyle.Render("⚡"), t.filter)
	if err := session.Connect(ctx, t.filter, t.link); err != nil {
		return fmt.Errorf("%s %w", styles.ErrorStyle.Render("✗"), err)
	}
	defer session.Disconnect()

	info, _ := session.Port()
	fmt.Fprintf(out, "%s Connected to %s (%s)\n", styles.SuccessStyle.Render("✓"), info.Path, t.link)

	if err := session.Write(ctx, payload); err != nil {
		return fmt.Errorf("%s failed to send data: %w", styles.ErrorStyle.Render("✗"), err)
	}
	fmt.Fprintf(out, "%s Sent %d bytes: %s\n", styles.SuccessStyle.Render("✓"), len(payload), preview(payload, 50))

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
		formatter := components.NewDataFormatter(true, true)
		if data := reply.Bytes(); len(data) > 0 {
			fmt.Fprintf(out, "%s Received %d bytes: %s\n", styles.InfoStyle.Render("📋"), len(data), formatter.Payload(data))
		} else {
			fmt.Fprintf(out, "%s No reply within %v\n", styles.MutedStyle.Render("…"), wait)
		}
	}
	return nil
}

// preview shows the first limit bytes with non-printable characters replaced
func preview(data []byte, limit int) string {
	suffix := ""
	if len(data) > limit {
		data, suffix = data[:limit], "..."
	}
	return strings.Map(func(r rune) rune {
		if r < 32 || r > 126 {
			return '·'
		}
		return r
	}, string(data)) + suffix
}
