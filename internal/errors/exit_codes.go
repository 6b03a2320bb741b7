package errors

type ExitCode int

const (
	ExitSuccess      ExitCode = 0
	ExitGeneralError ExitCode = 1
	ExitConfigError  ExitCode = 2
	ExitLLMError     ExitCode = 4
	ExitAuthError    ExitCode = 5
	ExitIOError      ExitCode = 6
)

func (e ExitCode) Int() int {
	return int(e)
}

// ExitCodeOf returns the CLI exit code carried by err, or ExitGeneralError
func ExitCodeOf(err error) ExitCode {
	var ge interface{ exitCode() ExitCode }
	if As(err, &ge) {
		return ge.exitCode()
	}
	return ExitGeneralError
}

func (e *GatewayError) exitCode() ExitCode {
	if e.ExitCode == ExitSuccess {
		return ExitGeneralError
	}
	return e.ExitCode
}
