package chat

// Display receives what a turn shows to the user.
type Display interface {
	// ShowUser echoes the user's input once it is recorded.
	ShowUser(text string)
	// ShowPartial shows the cumulative reply text while it streams.
	ShowPartial(text string)
	// ShowAssistant shows the final reply, or the apology.
	ShowAssistant(text string)
}

// DisplayFuncs adapts optional callbacks to Display. Nil fields are skipped.
type DisplayFuncs struct {
	User      func(string)
	Partial   func(string)
	Assistant func(string)
}

// ShowUser implements Display.
func (d DisplayFuncs) ShowUser(text string) {
	if d.User != nil {
		d.User(text)
	}
}

// ShowPartial implements Display.
func (d DisplayFuncs) ShowPartial(text string) {
	if d.Partial != nil {
		d.Partial(text)
	}
}

// ShowAssistant implements Display.
func (d DisplayFuncs) ShowAssistant(text string) {
	if d.Assistant != nil {
		d.Assistant(text)
	}
}

// NopDisplay discards everything.
var NopDisplay Display = DisplayFuncs{}
