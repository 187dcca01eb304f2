package duckdb

import "github.com/tinytelemetry/capmigrate/internal/model"

type QueryOpts = model.QueryOpts
type AccountQuerier = model.AccountQuerier
type AccountWriter = model.AccountWriter

var (
	_ AccountQuerier = (*Store)(nil)
	_ AccountWriter  = (*Store)(nil)
)
