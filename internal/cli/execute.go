package cli

import "io"

// Execute runs the CLI with args and returns the process exit code.
// Errors are reported through the output formatter, so --format json
// callers get a JSON error envelope.
func Execute(args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := NewRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	opts.formatter(cmd).Error(ErrorCode(err), err.Error(), nil)
	return GetExitCode(err)
}
