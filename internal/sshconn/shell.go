package sshconn

// shell.go defines string constants for the shells 'ExecIn' can sequence
// commands into. Every image in the support matrix ships at least 'sh' and
// 'bash'.

type Shell = string

const (
	ShellSh   Shell = "sh"
	ShellBash Shell = "bash"
	ShellZSH  Shell = "zsh"
	ShellFish Shell = "fish"
)
