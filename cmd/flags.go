package cmd

import (
	"github.com/BioHazard786/huddle/internal/config"
	"github.com/spf13/pflag"
)

// iceFlags are the STUN/TURN overrides shared by join and serve.
type iceFlags struct {
	stun     string
	turn     string
	turnUser string
	turnPass string
}

func (f *iceFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.stun, "stun", "s", "", "Custom STUN server")
	fs.StringVarP(&f.turn, "turn", "t", "", "Custom TURN server")
	fs.StringVarP(&f.turnUser, "turn-user", "u", "", "TURN username")
	fs.StringVarP(&f.turnPass, "turn-pass", "p", "", "TURN password")
}

func (f *iceFlags) apply(opts *config.Options) {
	opts.STUNServer = f.stun
	opts.TURNServer = f.turn
	opts.TURNUser = f.turnUser
	opts.TURNPass = f.turnPass
}
