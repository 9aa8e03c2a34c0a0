package command

import (
	"reflect"
	"testing"
)

func TestCommandArgs(t *testing.T) {
	cmd := &Command{Args: []string{"merge", "a.nii.gz", "map=seg.json", "b.nii.gz",
		"validate=true", "out=c.nii.gz"}}

	if cmd.Name() != "merge" {
		t.Errorf("name %q", cmd.Name())
	}
	files := cmd.SetCommandArgs()
	if !reflect.DeepEqual(files, []string{"a.nii.gz", "b.nii.gz"}) {
		t.Errorf("positional args %v", files)
	}

	var first string
	rest := cmd.SetCommandArgs(&first)
	if first != "a.nii.gz" || !reflect.DeepEqual(rest, []string{"b.nii.gz"}) {
		t.Errorf("split %q + %v", first, rest)
	}

	if v, found := cmd.GetSetting(KeyMap); !found || v != "seg.json" {
		t.Errorf("map setting %q, %v", v, found)
	}
	if v, found := cmd.GetSetting(KeyOut); !found || v != "c.nii.gz" {
		t.Errorf("out setting %q, %v", v, found)
	}
	if _, found := cmd.GetSetting(KeyTaxonomy); found {
		t.Error("tax setting should be absent")
	}
}

func TestSubcommandArgs(t *testing.T) {
	cmd := &Command{Args: []string{"png", "encode", "slice.nii.gz", "out=pics"}}

	var sub string
	if rest := cmd.SetCommandArgs(&sub); sub != "encode" ||
		!reflect.DeepEqual(rest, []string{"slice.nii.gz"}) {
		t.Errorf("subcommand split %q + %v", sub, rest)
	}
	masks := cmd.SetSubcommandArgs()
	if !reflect.DeepEqual(masks, []string{"slice.nii.gz"}) {
		t.Errorf("subcommand args %v", masks)
	}
}

func TestTypedSettings(t *testing.T) {
	cmd := &Command{Args: []string{"render", "vol.nii.gz", "png=true", "index=2", "prune=maybe"}}

	if b, err := cmd.GetBoolSetting(KeyPNG, false); err != nil || !b {
		t.Errorf("png setting %v, %v", b, err)
	}
	if b, err := cmd.GetBoolSetting(KeyValidate, true); err != nil || !b {
		t.Errorf("validate default %v, %v", b, err)
	}
	if _, err := cmd.GetBoolSetting(KeyPrune, false); err == nil {
		t.Error("expected error for non-boolean setting")
	}

	if v, found, err := cmd.GetIntSetting(KeyIndex); err != nil || !found || v != 2 {
		t.Errorf("index setting %d, %v, %v", v, found, err)
	}
	if _, found, err := cmd.GetIntSetting(KeyMap); found || err != nil {
		t.Errorf("absent int setting found=%v err=%v", found, err)
	}
}
