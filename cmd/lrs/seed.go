package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lushonline/moodle-mod-externalcontent/internal/lrs"
	"github.com/lushonline/moodle-mod-externalcontent/internal/store"
)

type fixture struct {
	Courses []courseFixture `yaml:"courses"`
	Users   []string        `yaml:"users"`
}

type courseFixture struct {
	IDNumber  string          `yaml:"idnumber"`
	ShortName string          `yaml:"shortname"`
	FullName  string          `yaml:"fullname"`
	Modules   []moduleFixture `yaml:"modules"`
}

type moduleFixture struct {
	IDNumber             string `yaml:"idnumber"`
	Name                 string `yaml:"name"`
	CompletionExternally *bool  `yaml:"completion_externally"`
	CompletionTracking   *bool  `yaml:"completion_tracking"`
}

func parseFixture(r io.Reader) (fixture, error) {
	var f fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	return f, f.validate()
}

func (f fixture) validate() error {
	var errs []error
	seen := map[string]bool{}
	for i, c := range f.Courses {
		if c.ShortName == "" {
			errs = append(errs, fmt.Errorf("courses[%d]: shortname is required", i))
		}
		for j, m := range c.Modules {
			if m.IDNumber == "" {
				errs = append(errs, fmt.Errorf("courses[%d].modules[%d]: idnumber is required", i, j))
				continue
			}
			if seen[m.IDNumber] {
				errs = append(errs, fmt.Errorf("courses[%d].modules[%d]: duplicate idnumber %q", i, j, m.IDNumber))
			}
			seen[m.IDNumber] = true
		}
	}
	for i, u := range f.Users {
		if u == "" {
			errs = append(errs, fmt.Errorf("users[%d]: empty username", i))
		}
	}
	return errors.Join(errs...)
}

type seedSummary struct {
	Courses int
	Modules int
	Users   int
}

// applyFixture is idempotent: rerunning it updates rows in place.
func applyFixture(ctx context.Context, st *store.Store, f fixture) (seedSummary, error) {
	var sum seedSummary
	for _, cf := range f.Courses {
		course, err := st.CreateCourse(ctx, lrs.Course{IDNumber: cf.IDNumber, ShortName: cf.ShortName, FullName: cf.FullName})
		if err != nil {
			return sum, err
		}
		sum.Courses++
		for _, mf := range cf.Modules {
			_, err := st.CreateModule(ctx, lrs.Module{
				CourseID:             course.ID,
				IDNumber:             mf.IDNumber,
				Name:                 mf.Name,
				CompletionExternally: boolOr(mf.CompletionExternally, true),
				CompletionTracking:   boolOr(mf.CompletionTracking, true),
			})
			if err != nil {
				return sum, err
			}
			sum.Modules++
		}
	}
	for _, username := range f.Users {
		if _, err := st.CreateUser(ctx, username); err != nil {
			return sum, err
		}
		sum.Users++
	}
	return sum, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load courses, externalcontent modules and users from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fh, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer fh.Close()
			f, err := parseFixture(fh)
			if err != nil {
				return err
			}

			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.close()

			sum, err := applyFixture(cmd.Context(), rt.store, f)
			if err != nil {
				return err
			}
			rt.logger.Info("fixture loaded", "path", args[0], "courses", sum.Courses, "modules", sum.Modules, "users", sum.Users)
			return nil
		},
	}
}
