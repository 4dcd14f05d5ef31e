package actions

import "github.com/rendis/playbook/internal/channel"

// RegisterBuiltins registers the built-in handler set on the registry.
func RegisterBuiltins(r *Registry, provider channel.Provider, fsCfg FSConfig) error {
	var all []Handler
	all = append(all, MessagingHandlers(provider)...)
	all = append(all, FSHandlers(fsCfg)...)
	all = append(all, TransformHandlers()...)

	for _, h := range all {
		if err := r.Register(h); err != nil {
			return err
		}
	}
	return nil
}
