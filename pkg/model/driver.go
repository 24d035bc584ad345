package model

import (
	"errors"
	"fmt"
	"os"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// MinRosterSize is the smallest roster that still allows pit stops to
// reinsert a driver behind position 5.
const MinRosterSize = 6

var (
	ErrRosterTooSmall  = errors.New("roster too small")
	ErrDuplicateDriver = errors.New("duplicate driver in roster")
	ErrEmptyDriverName = errors.New("driver without name")
)

var defaultRosterTemplate = []Driver{
	{Name: "Max Verstappen", Team: "Red Bull"},
	{Name: "Sergio Perez", Team: "Red Bull"},
	{Name: "Lewis Hamilton", Team: "Mercedes"},
	{Name: "George Russell", Team: "Mercedes"},
	{Name: "Charles Leclerc", Team: "Ferrari"},
	{Name: "Carlos Sainz", Team: "Ferrari"},
	{Name: "Lando Norris", Team: "McLaren"},
	{Name: "Oscar Piastri", Team: "McLaren"},
	{Name: "Fernando Alonso", Team: "Aston Martin"},
	{Name: "Lance Stroll", Team: "Aston Martin"},
	{Name: "Pierre Gasly", Team: "Alpine"},
	{Name: "Esteban Ocon", Team: "Alpine"},
	{Name: "Alexander Albon", Team: "Williams"},
	{Name: "Logan Sargeant", Team: "Williams"},
	{Name: "Yuki Tsunoda", Team: "RB"},
	{Name: "Daniel Ricciardo", Team: "RB"},
	{Name: "Valtteri Bottas", Team: "Sauber"},
	{Name: "Zhou Guanyu", Team: "Sauber"},
	{Name: "Kevin Magnussen", Team: "Haas"},
	{Name: "Nico Hulkenberg", Team: "Haas"},
}

type Driver struct {
	Name string `json:"name" yaml:"name"`
	Team string `json:"team,omitempty" yaml:"team"`
}

func (d Driver) String() string {
	if d.Team == "" {
		return d.Name
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Team)
}

// Roster is the fixed, ordered set of drivers a race is started with.
type Roster struct {
	drivers []Driver
}

func DefaultRoster() *Roster {
	r, _ := NewRoster(defaultRosterTemplate)
	return r
}

func NewRoster(drivers []Driver) (*Roster, error) {
	if len(drivers) < MinRosterSize {
		return nil, fmt.Errorf("%w: %d drivers, need at least %d",
			ErrRosterTooSmall, len(drivers), MinRosterSize)
	}
	if lo.ContainsBy(drivers, func(d Driver) bool { return d.Name == "" }) {
		return nil, ErrEmptyDriverName
	}
	names := lo.Map(drivers, func(d Driver, _ int) string { return d.Name })
	if dup := lo.FindDuplicates(names); len(dup) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateDriver, dup)
	}
	return &Roster{drivers: append([]Driver(nil), drivers...)}, nil
}

// LoadRoster reads a yaml file with a list of drivers, for example
//
//	- name: Max Verstappen
//	  team: Red Bull
func LoadRoster(file string) (*Roster, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var drivers []Driver
	if err := yaml.Unmarshal(data, &drivers); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", file, err)
	}
	return NewRoster(drivers)
}

// Drivers returns a copy of the roster in its original order.
func (r *Roster) Drivers() []Driver {
	return append([]Driver(nil), r.drivers...)
}

func (r *Roster) Size() int {
	return len(r.drivers)
}

func (r *Roster) Lookup(name string) (Driver, bool) {
	return lo.Find(r.drivers, func(d Driver) bool { return d.Name == name })
}
