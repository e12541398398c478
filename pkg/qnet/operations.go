package qnet

import "context"

// Upstream operation names. The first six live under the
// test-information service, the last one under the qualification-list
// service; Fetch routes on the name.
const (
	// EndpointProfessionalEngineerSchedule returns exam date rows for
	// professional engineer (기술사) qualifications.
	EndpointProfessionalEngineerSchedule = "getPEList"

	// EndpointMasterCraftsmanSchedule returns exam date rows for
	// master craftsman (기능장) qualifications.
	EndpointMasterCraftsmanSchedule = "getMCList"

	// EndpointEngineerSchedule returns exam date rows for engineer and
	// industrial engineer (기사/산업기사) qualifications.
	EndpointEngineerSchedule = "getEList"

	// EndpointCraftsmanSchedule returns exam date rows for craftsman
	// (기능사) qualifications.
	EndpointCraftsmanSchedule = "getCList"

	// EndpointExamFees returns application fees for one qualification.
	EndpointExamFees = "getFeeList"

	// EndpointSubjectInfo returns subject details for one qualification.
	EndpointSubjectInfo = "getJMList"

	// EndpointQualificationList returns the national qualification
	// catalogue.
	EndpointQualificationList = "getList"
)

// ScheduleParams narrows a schedule query. Zero values mean "all": the
// upstream treats a missing year or round as unfiltered.
type ScheduleParams struct {
	// ImplYy is the implementation year, e.g. "2025".
	ImplYy string

	// ImplSeq is the exam round within the year, e.g. "1".
	ImplSeq string
}

func (p ScheduleParams) toMap() map[string]string {
	params := map[string]string{}
	if p.ImplYy != "" {
		params["implYy"] = p.ImplYy
	}
	if p.ImplSeq != "" {
		params["implSeq"] = p.ImplSeq
	}
	return params
}

// ProfessionalEngineerSchedule fetches the exam schedule for
// professional engineer qualifications.
func (c *Client) ProfessionalEngineerSchedule(ctx context.Context, p ScheduleParams) (*UpstreamResult, error) {
	return c.Fetch(ctx, EndpointProfessionalEngineerSchedule, p.toMap())
}

// MasterCraftsmanSchedule fetches the exam schedule for master
// craftsman qualifications.
func (c *Client) MasterCraftsmanSchedule(ctx context.Context, p ScheduleParams) (*UpstreamResult, error) {
	return c.Fetch(ctx, EndpointMasterCraftsmanSchedule, p.toMap())
}

// EngineerSchedule fetches the exam schedule for engineer and
// industrial engineer qualifications.
func (c *Client) EngineerSchedule(ctx context.Context, p ScheduleParams) (*UpstreamResult, error) {
	return c.Fetch(ctx, EndpointEngineerSchedule, p.toMap())
}

// CraftsmanSchedule fetches the exam schedule for craftsman
// qualifications.
func (c *Client) CraftsmanSchedule(ctx context.Context, p ScheduleParams) (*UpstreamResult, error) {
	return c.Fetch(ctx, EndpointCraftsmanSchedule, p.toMap())
}

// ExamFees fetches the application fees for the qualification
// identified by jmCd (e.g. "1320" for 정보처리기사).
func (c *Client) ExamFees(ctx context.Context, jmCd string) (*UpstreamResult, error) {
	if jmCd == "" {
		return nil, &UpstreamError{
			Endpoint: EndpointExamFees,
			Class:    ErrorClassUpstreamSpecific,
			Err:      ErrMissingJmCd,
		}
	}
	return c.Fetch(ctx, EndpointExamFees, map[string]string{"jmCd": jmCd})
}

// SubjectInfo fetches the subject details for the qualification
// identified by jmCd.
func (c *Client) SubjectInfo(ctx context.Context, jmCd string) (*UpstreamResult, error) {
	if jmCd == "" {
		return nil, &UpstreamError{
			Endpoint: EndpointSubjectInfo,
			Class:    ErrorClassUpstreamSpecific,
			Err:      ErrMissingJmCd,
		}
	}
	return c.Fetch(ctx, EndpointSubjectInfo, map[string]string{"jmCd": jmCd})
}

// QualificationList fetches the national qualification catalogue. A
// non-empty series code (gno) narrows the result to one series.
func (c *Client) QualificationList(ctx context.Context, gno string) (*UpstreamResult, error) {
	params := map[string]string{}
	if gno != "" {
		params["gno"] = gno
	}
	return c.Fetch(ctx, EndpointQualificationList, params)
}
