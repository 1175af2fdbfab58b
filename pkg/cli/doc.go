// Package cli holds the terminal helpers of the ecostream command: output
// encoding (JSON, YAML), duration formatting and lipgloss panels used to
// render decisions and module selections.
//
// Example:
//
//	p := cli.Panel{Title: "decision", Styles: cli.NewStyles(cli.DefaultTheme)}
//	p.Add("intensity", "8")
//	fmt.Println(p.Render())
//
//	cli.Output(result, cli.OutputOptions{Format: cli.FormatJSON})
package cli
