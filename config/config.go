/*
	Helpers for loading contextual config.

	Config for hit means "things that are the operator's concerns":
	which account signs, which keys decrypt, which store and chain gateway
	to talk to, and how much gas to offer.  None of it is passed in calls;
	commands read it once, unlock it once, and carry a session from there.
*/
package config

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
)

/*
	Return the home-base path that holds hit's config.

	The default value is `"~/.hit"`;
	this can be overriden by the `HIT_HOME` environment variable.
*/
func GetHitBasePath() (string, error) {
	pth := os.Getenv("HIT_HOME")
	if pth == "" {
		home, err := homedir.Dir()
		if err != nil {
			return "", Errorf(hit.ErrUsage, "cannot find home directory (set HIT_HOME): %s", err)
		}
		pth = filepath.Join(home, ".hit")
	}
	pth, err := homedir.Expand(pth)
	if err != nil {
		return "", Errorf(hit.ErrUsage, "invalid HIT_HOME: %s", err)
	}
	pth, err = filepath.Abs(pth)
	if err != nil {
		panic(err)
	}
	return pth, nil
}

/*
	Return the path of the config file.

	The default value is `"$HIT_HOME/config.ini"`;
	this can be overriden by the `HIT_CONFIG` environment variable.
*/
func GetConfigPath() (string, error) {
	if pth := os.Getenv("HIT_CONFIG"); pth != "" {
		return homedir.Expand(pth)
	}
	base, err := GetHitBasePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "config.ini"), nil
}
