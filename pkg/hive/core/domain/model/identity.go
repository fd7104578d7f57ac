package model

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os/user"
	"strconv"
	"strings"
	"time"
)

// JobIDPrefix starts every generated job ID.
const JobIDPrefix = "hj-"

// DefaultOwner is used when the current OS user cannot be determined.
const DefaultOwner = "no_user"

// Identity is the immutable identity of one job run, fixed at runner construction.
type Identity struct {
	// ID is "hj-" followed by the md5 of the job name and the creation timestamp.
	ID string
	// Key is label.owner.YYYYMMDD.HHMMSS.micro in UTC.
	Key string
	// CreatedAt is the instant the identity was generated.
	CreatedAt time.Time
}

// NewIdentity generates an identity for jobName at instant now.
// An empty label defaults to the job name, an empty owner to the current OS user.
func NewIdentity(jobName, label, owner string, now time.Time) Identity {
	if label == "" {
		label = jobName
	}
	if owner == "" {
		owner = CurrentOwner()
	}
	return Identity{
		ID:        JobID(jobName, now),
		Key:       JobKey(label, owner, now),
		CreatedAt: now,
	}
}

// JobID returns "hj-" + md5hex(jobName + seconds), seconds formatted with a fractional part.
func JobID(jobName string, now time.Time) string {
	sum := md5.Sum([]byte(jobName + epochSeconds(now)))
	return JobIDPrefix + hex.EncodeToString(sum[:])
}

// JobKey returns label.owner.YYYYMMDD.HHMMSS.micro with the timestamp in UTC.
func JobKey(label, owner string, now time.Time) string {
	utc := now.UTC()
	return fmt.Sprintf("%s.%s.%s.%06d", label, owner, utc.Format("20060102.150405"), utc.Nanosecond()/int(time.Microsecond))
}

// CurrentOwner returns the login name of the current user, or DefaultOwner.
func CurrentOwner() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return DefaultOwner
	}
	// Windows reports DOMAIN\user.
	if idx := strings.LastIndex(u.Username, `\`); idx != -1 {
		return u.Username[idx+1:]
	}
	return u.Username
}

func epochSeconds(t time.Time) string {
	s := strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
