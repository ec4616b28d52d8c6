package main

// Options is the root command; go-flags interprets the struct tags.
type Options struct {
	Config string    `short:"f" long:"config" description:"config YAML path"`
	Serve  *ServeCmd `command:"serve" description:"start the conversation runtime HTTP bridge"`
}

// Init instantiates the sub-command named by the first argument so the
// parser can populate its fields.
func (o *Options) Init(firstArg string) {
	switch firstArg {
	case "serve":
		o.Serve = &ServeCmd{}
	}
}
