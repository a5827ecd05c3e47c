package reconcile

// deriveClasses produces one class per unique section shortname seen in
// the input.
func deriveClasses(rows []Row, category string) []Class {
	seen := map[string]bool{}
	var out []Class
	for _, row := range rows {
		if seen[row.CourseShortName] {
			continue
		}
		seen[row.CourseShortName] = true
		out = append(out, Class{
			Shortname:        row.CourseShortName,
			Fullname:         row.CourseShortName,
			CategoryIDNumber: category,
		})
	}
	return out
}
