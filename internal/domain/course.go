package domain

// ContentNode is one element of a provider's course/lesson/chapter tree.
// An empty ParentID marks a root.
type ContentNode struct {
	ID           string
	ParentID     string
	CourseTypeID string
	CourseName   string
	SystemCode   string
	IsDeleted    bool
}

// ResolvedCourse is the (course name, provider) pair obtained by walking a
// content node up to its root.
type ResolvedCourse struct {
	CourseName string
	Provider   string
	IsDeleted  bool
}
