// Package status file: internal/status/tables.go
package status

import "DataNexus/internal/core/domain"

// builtinExact 是内置的精确匹配表，键均为大写。
var builtinExact = map[string]domain.EquipmentStatus{
	"RUNNING":     domain.StatusActive,
	"RUN":         domain.StatusActive,
	"ONLINE":      domain.StatusActive,
	"ON":          domain.StatusActive,
	"WORKING":     domain.StatusActive,
	"BUSY":        domain.StatusActive,
	"PRODUCING":   domain.StatusActive,
	"PRODUCTION":  domain.StatusActive,
	"OPERATING":   domain.StatusActive,
	"STARTED":     domain.StatusActive,
	"AUTO":        domain.StatusActive,
	"1":           domain.StatusActive,
	"运行":          domain.StatusActive,
	"运行中":         domain.StatusActive,
	"生产中":         domain.StatusActive,
	"IDLE":        domain.StatusPause,
	"PAUSED":      domain.StatusPause,
	"STANDBY":     domain.StatusPause,
	"HOLD":        domain.StatusPause,
	"WAITING":     domain.StatusPause,
	"READY":       domain.StatusPause,
	"SUSPENDED":   domain.StatusPause,
	"BLOCKED":     domain.StatusPause,
	"STARVED":     domain.StatusPause,
	"2":           domain.StatusPause,
	"待机":          domain.StatusPause,
	"暂停":          domain.StatusPause,
	"空闲":          domain.StatusPause,
	"STOPPED":     domain.StatusStop,
	"OFF":         domain.StatusStop,
	"OFFLINE":     domain.StatusStop,
	"INACTIVE":    domain.StatusStop,
	"DOWN":        domain.StatusStop,
	"FAULT":       domain.StatusStop,
	"ERROR":       domain.StatusStop,
	"ALARM":       domain.StatusStop,
	"MAINTENANCE": domain.StatusStop,
	"SHUTDOWN":    domain.StatusStop,
	"DISABLED":    domain.StatusStop,
	"NOT RUNNING": domain.StatusStop,
	"NOT_RUNNING": domain.StatusStop,
	"0":           domain.StatusStop,
	"停机":          domain.StatusStop,
	"停止":          domain.StatusStop,
	"故障":          domain.StatusStop,
	"报警":          domain.StatusStop,
	"维修":          domain.StatusStop,
	"离线":          domain.StatusStop,
}

// keywordSets 按优先级排列：先 ACTIVE，再 PAUSE，最后 STOP，首个命中即返回。
var keywordSets = []struct {
	status   domain.EquipmentStatus
	keywords []string
}{
	{domain.StatusActive, []string{"RUN", "ACTIV", "ONLINE", "START", "WORK", "PRODUC", "OPERAT", "BUSY"}},
	{domain.StatusPause, []string{"IDLE", "PAUS", "STANDBY", "HOLD", "WAIT", "READY", "SUSPEND", "BLOCK", "STARV"}},
	{domain.StatusStop, []string{"STOP", "OFF", "ERR", "FAULT", "ALARM", "MAINT", "DOWN", "FAIL", "SHUT", "BREAK", "HALT", "DISCONNECT", "REPAIR"}},
}
