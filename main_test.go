package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetup(t *testing.T) {
	type testCase struct {
		args      CmdArgs
		locations []string
		rebuild   bool
		rerunQC   bool
	}

	cases := []testCase{
		{CmdArgs{Process: "refresh-data", LocationCmd: "all", Rebuild: true, RerunQC: true}, nil, true, true},
		{CmdArgs{Process: "refresh-data", LocationCmd: "L1,L2"}, []string{"L1", "L2"}, false, false},
		{CmdArgs{Process: "refresh-metadata", LocationCmd: "L1", Rebuild: true, RerunQC: true}, []string{"L1"}, true, false},
		{CmdArgs{Process: "refresh-wmo", LocationCmd: "ALL", Rebuild: true}, nil, false, false},
		{CmdArgs{Process: "refresh-catalog", RerunQC: true}, nil, false, false},
	}

	for _, c := range cases {
		c.args.setup()
		assert.Equal(t, c.locations, c.args.Locations)
		if c.args.Rebuild != c.rebuild {
			t.Errorf("Got %v, wanted %v", c.args.Rebuild, c.rebuild)
		}
		if c.args.RerunQC != c.rerunQC {
			t.Errorf("Got %v, wanted %v", c.args.RerunQC, c.rerunQC)
		}
	}
}
