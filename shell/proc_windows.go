//go:build windows

package shell

import "os/exec"

func shellCommand(command string) (string, []string) {
	return "cmd", []string{"/C", command}
}

func configure(*exec.Cmd) {}
