// Command kdbxdump prints the group tree of a KeePass database. Only
// group names and entry titles are shown, never secrets.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/Zaphoood/kdbx/src/keepass/crypto"
	"github.com/Zaphoood/kdbx/src/keepass/database"
	"github.com/Zaphoood/kdbx/src/keepass/key"
	"github.com/Zaphoood/kdbx/src/keepass/model"
	"github.com/Zaphoood/kdbx/src/util"
)

const (
	INDENT          = 2
	TITLE_PLACEH    = "(No title)"
	GROUP_PLACEH    = "(No entries)"
	PASSWORD_PROMPT = "Password: "
)

var (
	groupStyle = lipgloss.NewStyle().Bold(true)
	entryStyle = lipgloss.NewStyle()
	emptyStyle = lipgloss.NewStyle().Faint(true)
	labelStyle = lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("8"))
)

func main() {
	setLogLevels(os.Getenv(logLevelEnv))
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("✗")+" "+err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {
	path, keyFile, err := util.ParseCommandLineArgs(args)
	if err != nil {
		return err
	}

	password, err := readPassword()
	if err != nil {
		return err
	}
	pw, err := key.NewPassword(password)
	if err != nil {
		return err
	}
	k := key.New(pw)
	if keyFile != "" {
		f, err := key.NewKeyFile(keyFile)
		if err != nil {
			k.Close()
			return err
		}
		k.Add(f)
	}

	d, err := database.OpenFile(path, k)
	if err != nil {
		k.Close()
		return describe(err)
	}
	defer d.Close()

	fmt.Print(summary(d))
	fmt.Print(tree(d.Document().Root, 0))
	return nil
}

// describe turns the phase of a failed open into a hint for the user.
func describe(err error) error {
	switch err.(type) {
	case database.DecryptError:
		return fmt.Errorf("wrong password or key file: %w", err)
	case database.IntegrityError:
		return err
	case database.FileError:
		return fmt.Errorf("not a readable KeePass database: %w", err)
	case database.KeyError:
		return fmt.Errorf("could not derive key: %w", err)
	case database.ParseError:
		return fmt.Errorf("could not parse database content: %w", err)
	}
	return err
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, PASSWORD_PROMPT)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

func summary(d *database.Database) string {
	h := d.Header()
	cipher := h.CipherID.String()
	if p, err := crypto.FindProvider(h.CipherID); err == nil {
		cipher = p.Name()
	}
	rows := [][2]string{
		{"Database", d.Document().Meta.DatabaseName},
		{"Version", d.Version().String()},
		{"Cipher", cipher},
		{"Stream", h.InnerRandomStreamID.String()},
	}
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(row[0]), row[1]))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func tree(g *model.Group, depth int) string {
	indent := strings.Repeat(" ", depth*INDENT)
	var b strings.Builder
	b.WriteString(indent + groupStyle.Render(g.Name) + "\n")
	if g.Entries.Len() == 0 && g.Groups.Len() == 0 {
		b.WriteString(indent + strings.Repeat(" ", INDENT) + emptyStyle.Render(GROUP_PLACEH) + "\n")
	}
	for _, e := range g.Entries.Items() {
		title := e.Title()
		if title == "" {
			title = TITLE_PLACEH
		}
		b.WriteString(indent + strings.Repeat(" ", INDENT) + entryStyle.Render(title) + "\n")
	}
	for _, child := range g.Groups.Items() {
		b.WriteString(tree(child, depth+1))
	}
	return b.String()
}
