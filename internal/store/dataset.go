// Package store holds what the relational store implementations share: the
// reference dataset used to seed desks, agents, clients and their holdings.
package store

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed demo.yaml
var demoYAML []byte

// Dataset is the reference data the routing engine reads but never writes.
type Dataset struct {
	Desks        []Desk        `yaml:"desks"`
	Agents       []Agent       `yaml:"agents"`
	Clients      []Client      `yaml:"clients"`
	CashAccounts []CashAccount `yaml:"cash_accounts"`
	Positions    []Position    `yaml:"positions"`
	Trades       []Trade       `yaml:"trades"`
}

type Desk struct {
	Code      string `yaml:"code"`
	Name      string `yaml:"name"`
	Specialty string `yaml:"specialty"`
}

type Agent struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Desk     string `yaml:"desk"`
	MaxOpen  int    `yaml:"max_open"`
	Inactive bool   `yaml:"inactive"`
}

type Client struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Email       string `yaml:"email"`
	PrimaryDesk string `yaml:"primary_desk"`
}

type CashAccount struct {
	Client    string  `yaml:"client"`
	Number    string  `yaml:"number"`
	Currency  string  `yaml:"currency"`
	Balance   float64 `yaml:"balance"`
	Available float64 `yaml:"available"`
	Held      float64 `yaml:"held"`
}

type Position struct {
	Client      string  `yaml:"client"`
	Symbol      string  `yaml:"symbol"`
	AssetClass  string  `yaml:"asset_class"`
	Quantity    float64 `yaml:"quantity"`
	MarketPrice float64 `yaml:"market_price"`
	AsOf        string  `yaml:"as_of"`
}

// MarketValue is quantity times price.
func (p Position) MarketValue() float64 {
	return p.Quantity * p.MarketPrice
}

type Trade struct {
	Ref            string  `yaml:"ref"`
	Client         string  `yaml:"client"`
	Symbol         string  `yaml:"symbol"`
	Side           string  `yaml:"side"`
	Quantity       float64 `yaml:"quantity"`
	Price          float64 `yaml:"price"`
	Status         string  `yaml:"status"`
	FailReason     string  `yaml:"fail_reason"`
	SubmittedAt    string  `yaml:"submitted_at"`
	ConfirmedAt    string  `yaml:"confirmed_at"`
	ExecutedAt     string  `yaml:"executed_at"`
	SettlementDate string  `yaml:"settlement_date"`
}

// LoadDataset reads a dataset file, or the embedded demo dataset when path is empty.
func LoadDataset(path string) (Dataset, error) {
	data := demoYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Dataset{}, fmt.Errorf("dataset: read %s: %w", path, err)
		}
		data = b
	}
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return Dataset{}, fmt.Errorf("dataset: parse: %w", err)
	}
	return ds, nil
}

// NullString maps "" to a NULL column value.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
