package fallback

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// MinimalApology is returned when the manager itself fails.
const MinimalApology = "I'm here to help with your insurance needs! 😊 What can I assist you with today?"

// Responses holds every canned reply set.
type Responses struct {
	Categories map[Category][]string `json:"categories"`
	Agents     map[string][]string   `json:"agents"`
	Confusion  map[string][]string   `json:"confusion"`
	Escalation []string              `json:"escalation"`
}

// Confusion kinds. Unknown kinds are answered from ConfusionHelp.
const (
	ConfusionWhat      = "what"
	ConfusionHow       = "how"
	ConfusionHelp      = "help"
	ConfusionConfused  = "confused"
	ConfusionRepeat    = "repeat"
	ConfusionDifferent = "different"
)

// DefaultResponses returns the built-in reply sets.
func DefaultResponses() *Responses {
	return &Responses{
		Categories: map[Category][]string{
			GeneralError: {
				"Oops! Something went wrong on my end. 😅 Could you please try again?",
				"I'm having a small technical hiccup. Please send your message again! 🔧",
				"Sorry about that! There was a brief issue. Could you resend your question? 💻",
			},
			InputValidationError: {
				"I didn't quite catch that! 😅 Could you please rephrase your question?",
				"Hmm, I'm not sure I understand. Could you tell me what you're looking for? 🤔",
				"Sorry, I couldn't understand that message. How can I help you today? 💬",
			},
			AgentError: {
				"I'm having trouble processing that right now. 😅 Could you try rephrasing your question?",
				"Let me try to help differently. What specific insurance information do you need? 🤝",
				"I want to make sure I give you the right help. Could you tell me more about what you're looking for? 📋",
			},
			TimeoutError: {
				"Sorry for the delay! 🕐 I'm still here to help. What can I do for you?",
				"I'm back! 😊 How can I assist you with your insurance needs?",
				"Thanks for your patience! What insurance question can I help you with? 🌟",
			},
			TooManyErrors: {
				"I'm having some technical difficulties today. 😔 For immediate assistance, please contact our support team at support@hlas.com.sg or call +65 6227 7888.",
				"I apologize for the repeated issues. 🙏 Our human agents can help you right away at support@hlas.com.sg or +65 6227 7888.",
				"Let me connect you with our support team for better assistance. 📞 Please contact support@hlas.com.sg or call +65 6227 7888.",
			},
			OffTopic: {
				"I specialize in helping with insurance questions! 😊 What can I help you with regarding Travel, Maid, or Car insurance?",
				"I'm here to assist with your insurance needs. How can I help with Travel, Maid, or Car insurance today? 🛡️",
				"Let's talk insurance! I can help you with Travel, Maid, or Car insurance. What would you like to know? ✈️🏠🚗",
			},
			ProductNotAvailable: {
				"I currently specialize in Travel, Maid, and Car insurance! 🌟 Which of these would be helpful for you?",
				"Right now I can help with Travel, Maid, and Car insurance. 😊 Are any of these what you're looking for?",
				"I'm an expert in Travel, Maid, and Car insurance! ✈️🏠🚗 Would you like to know more about one of these?",
			},
		},
		Agents: map[string][]string{
			"travel_agent": {
				"I'm having trouble with travel insurance right now. 😅 Could you try asking about general coverage or contact our support team?",
				"Let me help differently with travel insurance! ✈️ What specific travel coverage question do you have?",
				"I want to ensure you get the right travel insurance info. 🌟 Could you rephrase your question?",
			},
			"maid_agent": {
				"I'm experiencing issues with maid insurance processing. 😅 Could you try rephrasing your question?",
				"Let me help with maid insurance in a different way! 🏠 What specific coverage do you need to know about?",
				"I want to give you accurate maid insurance information. 💙 Could you ask your question differently?",
			},
			"car_agent": {
				"I'm having trouble with car insurance right now. 😅 Could you try rephrasing your question?",
				"Let me help differently with car insurance! 🚗 What specific coverage would you like to know about?",
				"I want to make sure you get the right car insurance info. 💙 Could you ask that a different way?",
			},
			"payment_agent": {
				"I'm having trouble with the payment system. 😅 Please try again or contact our support team for immediate assistance.",
				"Let me help with payment processing! 💳 Could you provide your information again?",
				"I want to ensure your payment goes through smoothly. 🛡️ Please try submitting your details once more.",
			},
		},
		Confusion: map[string][]string{
			ConfusionWhat: {
				"I'm here to help with Travel, Maid, and Car insurance! 😊 What specific information do you need?",
				"Let me explain! I can help with Travel (for trips), Maid (for domestic helpers), and Car (for vehicles). Which interests you? ✈️🏠🚗",
				"I specialize in three types: Travel, Maid, and Car insurance. Which would you like to know about? 🌟",
			},
			ConfusionHow: {
				"I'd be happy to guide you! 😊 Are you looking to learn about coverage, get a quote, or something else?",
				"Let me walk you through it! 👥 What specific process would you like help with?",
				"I can guide you step by step! 🌟 What would you like to know how to do?",
			},
			ConfusionHelp: {
				"Absolutely! I'm here to help! 😊 I can assist with Travel, Maid, and Car insurance. What do you need?",
				"I'd love to help! 🌟 Tell me what insurance information you're looking for.",
				"Of course! I'm your insurance assistant. 💙 How can I help you today?",
			},
			ConfusionConfused: {
				"No worries! Let me make it clearer. 😊 I help with Travel (trips), Maid (helpers), and Car (vehicles). Which one?",
				"I understand! Let me simplify. 🌟 Do you need insurance for travel, a domestic helper, or a car?",
				"Let me explain better! 💙 I can help with trip, helper, or car insurance. Which interests you?",
			},
			ConfusionRepeat: {
				"Of course! 😊 I help with Travel (trips), Maid (helpers), and Car (vehicles). What can I tell you?",
				"Sure thing! 🌟 I specialize in Travel, Maid, and Car insurance. Which one would you like to know about?",
				"Happy to repeat! 💙 I assist with insurance for travel, domestic helpers, and cars. What specific info do you need?",
			},
			ConfusionDifferent: {
				"I focus on Travel, Maid, and Car insurance! 😊 For other types, our general support team can help.",
				"Currently I specialize in Travel, Maid, and Car insurance. 🌟 Would any of these help you?",
				"I'm specialized in Travel, Maid, and Car insurance! 💙 For other types, please reach out to our support team.",
			},
		},
		Escalation: []string{
			"I'd like to connect you with our specialist team for better assistance. 👥 Please contact support@hlas.com.sg or call +65 6227 7888.",
			"Let me get you in touch with our expert team! 🌟 Please reach out to support@hlas.com.sg or call +65 6227 7888.",
			"Our human specialists can provide you with personalized help. 😊 Contact support@hlas.com.sg or call +65 6227 7888.",
		},
	}
}

// LoadResponses reads a JSON5 override file. Sets present in the file
// replace the built-in ones; everything else keeps its default.
func LoadResponses(path string) (*Responses, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read responses: %w", err)
	}
	var override Responses
	if err := json5.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse responses %s: %w", path, err)
	}

	r := DefaultResponses()
	for cat, set := range override.Categories {
		if !cat.Valid() {
			return nil, fmt.Errorf("responses %s: unknown category %q", path, cat)
		}
		if len(set) > 0 {
			r.Categories[cat] = set
		}
	}
	for agent, set := range override.Agents {
		if len(set) > 0 {
			r.Agents[agent] = set
		}
	}
	for kind, set := range override.Confusion {
		if len(set) > 0 {
			r.Confusion[kind] = set
		}
	}
	if len(override.Escalation) > 0 {
		r.Escalation = override.Escalation
	}
	return r, nil
}

// category returns the set for c, or the general set for an unknown category.
func (r *Responses) category(c Category) []string {
	if set := r.Categories[c]; len(set) > 0 {
		return set
	}
	return r.Categories[GeneralError]
}

// agent returns the set for the named agent, or the generic agent_error set.
func (r *Responses) agent(name string) []string {
	if set := r.Agents[name]; len(set) > 0 {
		return set
	}
	return r.category(AgentError)
}

// confusion returns the set for kind, or the help set for an unknown kind.
func (r *Responses) confusion(kind string) []string {
	if set := r.Confusion[kind]; len(set) > 0 {
		return set
	}
	return r.Confusion[ConfusionHelp]
}
