package ui

import (
	"testing"

	"github.com/charmbracelet/bubbles/textinput"
)

func TestNewTextInputPasswordEcho(t *testing.T) {
	ti := newTextInput("", true)
	if ti.EchoMode != textinput.EchoPassword {
		t.Errorf("echo mode = %v, want EchoPassword", ti.EchoMode)
	}
	if ti.EchoCharacter != '•' {
		t.Errorf("echo character = %q, want %q", ti.EchoCharacter, '•')
	}
}

func TestNewTextInputPlain(t *testing.T) {
	ti := newTextInput("account key", false)
	if ti.EchoMode != textinput.EchoNormal {
		t.Errorf("echo mode = %v, want EchoNormal", ti.EchoMode)
	}
	if ti.Placeholder != "account key" {
		t.Errorf("placeholder = %q", ti.Placeholder)
	}
}
