package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
)

// Config sections.
const (
	SectionMain     = "main"
	SectionAccount  = "account"
	SectionRSA      = "rsa"
	SectionStorage  = "storage"
	SectionChain    = "chain"
	SectionGas      = "gas"
	SectionContract = "contract"
	SectionRPC      = "rpc"   // ethereum json-rpc endpoints, for balances
	SectionToken    = "token" // erc20 contract addresses
)

// The key in each section naming its active entry.
const KeyDefault = "default"

/*
	File is the operator's config: ini sections of flat keys.

	Reads go through viper, so any key can be overridden from the environment
	as `HIT_<SECTION>_<KEY>` (e.g. `HIT_CHAIN_DEFAULT`).  Edits are kept
	separately and only the edited file contents, never env overrides,
	are written back by Save.

	Keys are case-insensitive; viper folds them to lower case.
*/
type File struct {
	path     string
	v        *viper.Viper
	sections map[string]map[string]string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("ini")
	v.SetEnvPrefix("HIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

/*
	Load the config at path.  A missing file is an empty config.

	May return errors of category:

	  - `hit.ErrUsage` -- if the file exists but can't be parsed
*/
func Load(path string) (*File, error) {
	f := &File{path: path, v: newViper(), sections: map[string]map[string]string{}}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return f, nil
	}
	f.v.SetConfigFile(path)
	if err := f.v.ReadInConfig(); err != nil {
		return nil, Errorf(hit.ErrUsage, "cannot read config %s: %s", path, err)
	}
	raw := viper.New()
	raw.SetConfigType("ini")
	raw.SetConfigFile(path)
	if err := raw.ReadInConfig(); err != nil {
		return nil, Errorf(hit.ErrUsage, "cannot read config %s: %s", path, err)
	}
	for section, v := range raw.AllSettings() {
		entries, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		for key, value := range entries {
			f.put(section, key, cast.ToString(value))
		}
	}
	return f, nil
}

func (f *File) Path() string { return f.path }

func (f *File) put(section, key, value string) {
	section, key = strings.ToLower(section), strings.ToLower(key)
	if f.sections[section] == nil {
		f.sections[section] = map[string]string{}
	}
	f.sections[section][key] = value
}

func (f *File) Get(section, key string) string {
	return f.v.GetString(section + "." + key)
}

func (f *File) Set(section, key, value string) {
	f.put(section, key, value)
	f.v.Set(section+"."+key, value)
}

func (f *File) Delete(section, key string) {
	section, key = strings.ToLower(section), strings.ToLower(key)
	delete(f.sections[section], key)
	f.v.Set(section+"."+key, "")
}

// The active entry's name for the section, or "".
func (f *File) Default(section string) string {
	return f.Get(section, KeyDefault)
}

func (f *File) SetDefault(section, name string) {
	f.Set(section, KeyDefault, name)
}

/*
	List the keys set in a section (from the file, not the environment),
	sorted, without the "default" key.
*/
func (f *File) Keys(section string) []string {
	var keys []string
	for k := range f.sections[strings.ToLower(section)] {
		if k != KeyDefault {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

/*
	Write the file back, creating its directory if needed.
	The file is readable only by its owner: it holds sealed keys.

	May return errors of category:

	  - `hit.ErrUsage` -- if the file can't be written
*/
func (f *File) Save() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return Errorf(hit.ErrUsage, "cannot create config directory: %s", err)
	}
	out := viper.New()
	out.SetConfigType("ini")
	out.SetConfigPermissions(0600)
	for section, entries := range f.sections {
		for key, value := range entries {
			out.Set(section+"."+key, value)
		}
	}
	if err := out.WriteConfigAs(f.path); err != nil {
		return Errorf(hit.ErrUsage, "cannot write config %s: %s", f.path, err)
	}
	return nil
}
