package terminal

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/kmemtool/kmem/pkg/config"
)

func configureCmd(t *Term, args string) error {
	switch args {
	case "-list":
		return configureList(t)
	case "-save":
		return config.SaveConfig(t.conf)
	case "":
		return fmt.Errorf("wrong number of arguments to \"config\"")
	default:
		return configureSet(t, args)
	}
}

type configureIterator struct {
	cfgValue reflect.Value
	cfgType  reflect.Type
	i        int
}

func iterateConfiguration(conf *config.Config) *configureIterator {
	cfgValue := reflect.ValueOf(conf).Elem()
	cfgType := cfgValue.Type()

	return &configureIterator{cfgValue, cfgType, -1}
}

func (it *configureIterator) Next() bool {
	it.i++
	return it.i < it.cfgValue.NumField()
}

func (it *configureIterator) Field() (name string, field reflect.Value) {
	name = it.cfgType.Field(it.i).Tag.Get("yaml")
	if comma := strings.Index(name, ","); comma >= 0 {
		name = name[:comma]
	}
	field = it.cfgValue.Field(it.i)
	return
}

func configureFindFieldByName(conf *config.Config, name string) reflect.Value {
	it := iterateConfiguration(conf)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == name {
			return field
		}
	}
	return reflect.ValueOf(nil)
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)

	it := iterateConfiguration(t.conf)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == "" {
			continue
		}

		switch {
		case field.Kind() == reflect.Ptr && field.IsNil():
			fmt.Fprintf(w, "%s\t<not defined>\n", fieldName)
		case field.Kind() == reflect.Ptr && field.Elem().Kind() == reflect.Uint64:
			fmt.Fprintf(w, "%s\t%#x\n", fieldName, field.Elem().Uint())
		case field.Kind() == reflect.Map:
			fmt.Fprintf(w, "%s\t%s\n", fieldName, formatMap(field))
		default:
			fmt.Fprintf(w, "%s\t%v\n", fieldName, field)
		}
	}
	return w.Flush()
}

// formatMap prints a map with sorted keys.
func formatMap(m reflect.Value) string {
	keys := m.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%v:%v", k, m.MapIndex(k))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func configureSet(t *Term, args string) error {
	v := strings.SplitN(args, " ", 2)

	cfgname := v[0]
	var rest string
	if len(v) == 2 {
		rest = strings.TrimSpace(v[1])
	}

	switch cfgname {
	case "alias":
		return configureSetAlias(t, rest)
	case "tag-labels":
		return configureSetTagLabel(t, rest)
	}

	field := configureFindFieldByName(t.conf, cfgname)
	if !field.CanAddr() {
		return fmt.Errorf("%q is not a configuration parameter", cfgname)
	}

	simpleArg := func(typ reflect.Type) (reflect.Value, error) {
		val := reflect.New(typ).Elem()
		switch typ.Kind() {
		case reflect.Int:
			n, err := strconv.Atoi(rest)
			if err != nil {
				return reflect.ValueOf(nil), fmt.Errorf("argument to %q must be a number", cfgname)
			}
			if n < 0 {
				return reflect.ValueOf(nil), fmt.Errorf("argument to %q must be a number greater than zero", cfgname)
			}
			val.SetInt(int64(n))
		case reflect.Uint64:
			n, err := strconv.ParseUint(rest, 0, 64)
			if err != nil {
				return reflect.ValueOf(nil), fmt.Errorf("argument to %q must be an address", cfgname)
			}
			val.SetUint(n)
		case reflect.Bool:
			val.SetBool(rest == "true")
		case reflect.String:
			val.SetString(rest)
		default:
			return reflect.ValueOf(nil), fmt.Errorf("unsupported type for configuration key %q", cfgname)
		}
		return val, nil
	}

	old := reflect.New(field.Type()).Elem()
	old.Set(field)

	if field.Kind() == reflect.Ptr {
		val, err := simpleArg(field.Type().Elem())
		if err != nil {
			return err
		}
		p := reflect.New(field.Type().Elem())
		p.Elem().Set(val)
		field.Set(p)
	} else {
		val, err := simpleArg(field.Type())
		if err != nil {
			return err
		}
		field.Set(val)
	}

	if err := t.conf.Validate(); err != nil {
		field.Set(old)
		return err
	}
	return nil
}

func configureSetTagLabel(t *Term, rest string) error {
	argv, err := splitArgs(rest)
	if err != nil {
		return err
	}
	if len(argv) == 0 || len(argv) > 2 {
		return fmt.Errorf("wrong number of arguments: config tag-labels <tag> [<label>]")
	}
	tag, err := strconv.Atoi(argv[0])
	if err != nil || tag < 0 || tag > 255 {
		return fmt.Errorf("tag must be a number between 0 and 255")
	}
	if len(argv) == 1 {
		delete(t.conf.TagLabels, tag)
		return nil
	}
	if t.conf.TagLabels == nil {
		t.conf.TagLabels = make(map[int]string)
	}
	t.conf.TagLabels[tag] = argv[1]
	return nil
}

func configureSetAlias(t *Term, rest string) error {
	argv, err := splitArgs(rest)
	if err != nil {
		return err
	}
	switch len(argv) {
	case 1: // delete alias rule
		for k := range t.conf.Aliases {
			v := t.conf.Aliases[k]
			for i := range v {
				if v[i] == argv[0] {
					copy(v[i:], v[i+1:])
					t.conf.Aliases[k] = v[:len(v)-1]
					break
				}
			}
		}
	case 2: // add alias rule
		alias, cmd := argv[1], argv[0]
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[cmd] = append(t.conf.Aliases[cmd], alias)
	default:
		return fmt.Errorf("wrong number of arguments: config alias <command> [<alias>]")
	}
	t.cmds.Merge(t.conf.Aliases)
	return nil
}
