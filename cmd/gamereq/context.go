package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/gamerequest/gamerequest-server/internal/di"
	"github.com/gamerequest/gamerequest-server/internal/di/providers"
	"github.com/gamerequest/gamerequest-server/internal/domain"
	"github.com/gamerequest/gamerequest-server/internal/store"
)

// commandContext builds the service graph on first use. Only the services a
// command asks for are constructed; the HTTP server never is.
type commandContext struct {
	envFile     string
	dataPath    string
	storeDriver string
	logLevel    string

	injector *do.RootScope
}

func (c *commandContext) args() []string {
	args := []string{"--env-file", c.envFile, "--log-level", c.logLevel}
	if c.dataPath != "" {
		args = append(args, "--data-path", c.dataPath)
	}
	if c.storeDriver != "" {
		args = append(args, "--store", c.storeDriver)
	}
	return args
}

func (c *commandContext) container() *do.RootScope {
	if c.injector == nil {
		c.injector = di.NewContainer(c.args(), version)
	}
	return c.injector
}

func (c *commandContext) close() error {
	if c.injector == nil {
		return nil
	}
	if err := c.injector.Shutdown(); err != nil {
		return err
	}
	return nil
}

// invoke resolves T from the container.
func invoke[T any](c *commandContext) (T, error) {
	return do.Invoke[T](c.container())
}

func (c *commandContext) store() (*providers.StoreHandle, error) {
	return invoke[*providers.StoreHandle](c)
}

// adminActor resolves the account commands act as. An empty username picks
// the first admin.
func (c *commandContext) adminActor(ctx context.Context, username string) (domain.Actor, error) {
	st, err := c.store()
	if err != nil {
		return domain.Actor{}, err
	}

	if username != "" {
		user, err := st.GetUserByUsername(ctx, username)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Actor{}, fmt.Errorf("user %q not found", username)
		}
		if err != nil {
			return domain.Actor{}, err
		}
		if !user.IsAdmin() {
			return domain.Actor{}, fmt.Errorf("user %q is not an admin", username)
		}
		return user.Actor(), nil
	}

	for offset := 0; ; offset += 100 {
		users, total, err := st.ListUsers(ctx, store.PageParams{Offset: offset, Limit: 100})
		if err != nil {
			return domain.Actor{}, err
		}
		for _, u := range users {
			if u.IsAdmin() && u.Active {
				return u.Actor(), nil
			}
		}
		if offset+len(users) >= total || len(users) == 0 {
			break
		}
	}
	return domain.Actor{}, errors.New("no admin account exists; create one with `gamereq user create-admin`")
}
