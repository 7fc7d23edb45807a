package compiler

import (
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/weft-labs/weft/internal/ir"
)

// LoadDir loads every CUE file under dir, compiles the top-level rule
// struct, and returns the rules sorted by ID. All compile errors are
// collected rather than stopping at the first.
func LoadDir(dir string) ([]ir.Rule, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("rules directory %s: %w", dir, err)}
	}
	if !info.IsDir() {
		return nil, []error{fmt.Errorf("rules path %s is not a directory", dir)}
	}

	cctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{fmt.Errorf("no CUE instances in %s", dir)}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{formatCUEError(inst.Err)}
	}
	value := cctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	return CompileRules(value)
}

// CompileRules compiles the top-level rule struct of an already-built
// CUE value.
func CompileRules(value cue.Value) ([]ir.Rule, []error) {
	rootVal := value.LookupPath(cue.ParsePath("rule"))
	if !rootVal.Exists() {
		return nil, []error{&CompileError{
			Code:    ErrMissingRuleRoot,
			Message: `no top-level "rule" struct found`,
			Pos:     value.Pos(),
		}}
	}

	var (
		ruleList []ir.Rule
		errs     []error
	)
	iter, err := rootVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}
	for iter.Next() {
		id := fieldLabel(iter)
		rule, cerr := CompileRule(id, iter.Value())
		if cerr != nil {
			errs = append(errs, cerr)
			continue
		}
		ruleList = append(ruleList, *rule)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if len(ruleList) == 0 {
		return nil, []error{&CompileError{
			Code:    ErrMissingRuleRoot,
			Message: "rule struct declares no rules",
			Pos:     rootVal.Pos(),
		}}
	}

	sort.Slice(ruleList, func(i, j int) bool { return ruleList[i].ID < ruleList[j].ID })
	return ruleList, nil
}
