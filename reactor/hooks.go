package reactor

// Hooks are the generator-supplied collaborators named in spec §6: code the
// core expects to exist but does not implement itself. A code generator (or,
// in this repository, a hand-written demo) supplies a Hooks implementation
// when constructing a Runtime.
type Hooks interface {
	// StartTimeStep is called at the top of each logical tag, before
	// current_tag advances, to reset output-absent flags on all ports.
	StartTimeStep()

	// TriggerOutputReactions is trigger_output_reactions(reaction) (spec
	// §6): called once per reaction, immediately after it runs. The
	// implementation owns deciding which of r.Outputs the reaction actually
	// produced (generator-tracked, e.g. per-port "is present" flags) and
	// enqueuing their reactions via rt.EnqueueReaction — the core does not
	// enqueue outputs itself, so an implementation that does nothing here
	// means the reaction's outputs never fire downstream.
	TriggerOutputReactions(rt *Runtime, r *Reaction)
}

// NopHooks is a Hooks implementation that does nothing, suitable for
// runtimes whose reactions never produce outputs (e.g. a standalone timer).
type NopHooks struct{}

func (NopHooks) StartTimeStep()                             {}
func (NopHooks) TriggerOutputReactions(*Runtime, *Reaction) {}
