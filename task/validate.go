package task

// Enumerations exposed at the API boundary. Unknown values are rejected
// server-side, not silently accepted.

// Types lists the valid task types.
func Types() []Type {
	return []Type{
		TypePost, TypeBook, TypeImage, TypeContent,
		TypeCode, TypeQATest, TypeAutomation, TypeAgentMessage,
	}
}

// TargetTypes lists the valid target types.
func TargetTypes() []TargetType {
	return []TargetType{
		TargetPost, TargetBook, TargetImage, TargetCode,
		TargetTest, TargetDeployment, TargetMessage, TargetGeneral,
	}
}

// Priorities lists the valid priorities.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}
}

// SourceDashboards lists the valid source dashboards.
func SourceDashboards() []SourceDashboard {
	return []SourceDashboard{SourceContent, SourceCode, SourceOps}
}

// Valid reports whether t is a known task type.
func (t Type) Valid() bool {
	for _, v := range Types() {
		if t == v {
			return true
		}
	}
	return false
}

// Valid reports whether t is a known target type.
func (t TargetType) Valid() bool {
	for _, v := range TargetTypes() {
		if t == v {
			return true
		}
	}
	return false
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	for _, v := range Priorities() {
		if p == v {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known source dashboard.
func (s SourceDashboard) Valid() bool {
	for _, v := range SourceDashboards() {
		if s == v {
			return true
		}
	}
	return false
}

func typeStrings() []string {
	ts := Types()
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

func targetTypeStrings() []string {
	ts := TargetTypes()
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

func priorityStrings() []string {
	ps := Priorities()
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

func sourceDashboardStrings() []string {
	ds := SourceDashboards()
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = string(d)
	}
	return out
}
