// Package domain models Hilltop environmental time-series data and resolves
// values reported against a laboratory detection limit.
//
// # Data Source
//
// Observations come from a Hilltop web service (Service=Hilltop) serving one
// hts file. Each GetData request returns one series for a (site, measurement)
// pair. Water-quality "WQ Sample" series additionally carry per-sample
// parameters which are grouped as (site, measurement, parameter).
//
// # Hilltop Value Conventions
//
// Value text:
//
//	"12"      integer reading
//	"0.35"    decimal reading
//	"<0.005"  below the detection limit 0.005 (left censored)
//	">2420"   above the reporting limit 2420 (right censored)
//
// Numbers are parsed as integers first, then as floats. Non-ASCII bytes are
// stripped before parsing because some servers emit stray encoding bytes.
//
// Precision:
//
//	The measurement Format field ("#.###") encodes precision as the number of
//	digits after the decimal point. Censored values are never rounded.
//
// Time format:
//
//	Hilltop timestamps are local station time without a zone and are carried
//	as UTC wall-clock values. Gauging rows use mowsecs, seconds since
//	1940-01-01T00:00:00.
//
// # Detection Limit Methods
//
//	none   strip the marker and keep the reported limit
//	half   replace each censored value with limit * 0.5
//	trend  half, then when more than 40% of a group is censored and the group
//	       holds more than one distinct limit, raise every censored value to the
//	       group's largest half-limit so a falling limit does not read as a trend
//
// Only less-than values take part in the censoring statistics. Greater-than
// values pass through as plain numbers with their censor code kept, unless a
// [Resolver] is configured to reject them. See [Resolver.Resolve].
package domain
