// Package alarm holds the alarm data model, the next-fire calculator and the
// mutex-guarded Store that owns every alarm record and the ringing set.
package alarm
